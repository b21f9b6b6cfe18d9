package routing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym"
)

func threeNodes(t *testing.T, self string, role Role) *Cluster {
	t.Helper()
	c, err := NewCluster(self, role, []string{"idx-0", "idx-1", "idx-2"})
	require.NoError(t, err)
	return c
}

func TestOwnerIsStable(t *testing.T) {
	c := threeNodes(t, "idx-0", RoleIndexer)
	for i := 0; i < 20; i++ {
		ns := fmt.Sprintf("tenant-%d", i)
		assert.Equal(t, c.OwnerOf(ns), c.OwnerOf(ns))
	}
}

func TestOwnerAgreesAcrossNodes(t *testing.T) {
	a := threeNodes(t, "idx-0", RoleIndexer)
	b := threeNodes(t, "idx-1", RoleIndexer)
	for i := 0; i < 50; i++ {
		ns := fmt.Sprintf("tenant-%d", i)
		assert.Equal(t, a.OwnerOf(ns), b.OwnerOf(ns),
			"identical membership lists must route identically")
	}
}

func TestDistributionFairness(t *testing.T) {
	c := threeNodes(t, "idx-0", RoleIndexer)
	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		counts[c.OwnerOf(fmt.Sprintf("namespace-%d", i))]++
	}
	for node, n := range counts {
		assert.Greater(t, n, 700, "node %s starved", node)
		assert.Less(t, n, 1300, "node %s overloaded", node)
	}
}

func TestCheckWriteRedirects(t *testing.T) {
	c := threeNodes(t, "idx-0", RoleIndexer)

	var owned, redirected int
	for i := 0; i < 100; i++ {
		ns := fmt.Sprintf("tenant-%d", i)
		err := c.CheckWrite(ns)
		if err == nil {
			owned++
			assert.Equal(t, "idx-0", c.OwnerOf(ns))
			continue
		}
		redirected++
		var e *elacsym.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, elacsym.KindWrongOwner, e.Kind)
		assert.Equal(t, c.OwnerOf(ns), e.Node, "redirect must carry the owner")
	}
	assert.Positive(t, owned)
	assert.Positive(t, redirected)
}

func TestQueryNodesNeverWrite(t *testing.T) {
	c, err := NewCluster("q-0", RoleQuery, []string{"idx-0"})
	require.NoError(t, err)
	err = c.CheckWrite("any")
	var e *elacsym.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, elacsym.KindWrongOwner, e.Kind)
	assert.Equal(t, "idx-0", e.Node)
}

func TestClusterAssertions(t *testing.T) {
	_, err := NewCluster("idx-9", RoleIndexer, []string{"idx-0", "idx-1"})
	assert.Error(t, err, "indexer must be a cluster member")

	_, err = NewCluster("", RoleIndexer, []string{"idx-0"})
	assert.Error(t, err)

	_, err = NewCluster("idx-0", RoleIndexer, nil)
	assert.Error(t, err)

	// Query nodes need not appear in the indexer list.
	_, err = NewCluster("q-0", RoleQuery, []string{"idx-0"})
	assert.NoError(t, err)
}

func TestSingleNodeOwnsEverything(t *testing.T) {
	c := SingleNode("main")
	for i := 0; i < 10; i++ {
		ns := fmt.Sprintf("tenant-%d", i)
		assert.True(t, c.Owns(ns))
		assert.NoError(t, c.CheckWrite(ns))
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("indexer")
	require.NoError(t, err)
	assert.Equal(t, RoleIndexer, r)
	r, err = ParseRole("query")
	require.NoError(t, err)
	assert.Equal(t, RoleQuery, r)
	_, err = ParseRole("hybrid")
	assert.Error(t, err)
}
