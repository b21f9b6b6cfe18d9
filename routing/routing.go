package routing

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/lqhl/elacsym"
)

// Role is the node's function in distributed mode.
type Role uint8

const (
	// RoleIndexer owns namespaces: writes, compaction, and reads.
	RoleIndexer Role = iota
	// RoleQuery serves reads only; never writes, never compacts.
	RoleQuery
)

func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "indexer"
}

// ParseRole parses "indexer" / "query".
func ParseRole(s string) (Role, error) {
	switch s {
	case "indexer":
		return RoleIndexer, nil
	case "query":
		return RoleQuery, nil
	default:
		return 0, fmt.Errorf("unsupported node role: %q", s)
	}
}

// Cluster is the deployed routing: the membership list is identical on
// every node, so ownership is a pure function of the namespace name.
type Cluster struct {
	nodeID string
	role   Role
	nodes  []string
}

// NewCluster builds the routing view for this node. nodes must be the
// ordered indexer list shared across the deployment; an indexer's own id
// must appear in it.
func NewCluster(nodeID string, role Role, nodes []string) (*Cluster, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id must not be empty")
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("indexer cluster node list must not be empty")
	}
	if role == RoleIndexer {
		found := false
		for _, n := range nodes {
			if n == nodeID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("indexer %q is not in the cluster node list %v", nodeID, nodes)
		}
	}
	return &Cluster{nodeID: nodeID, role: role, nodes: nodes}, nil
}

// SingleNode is the combined (non-distributed) deployment.
func SingleNode(nodeID string) *Cluster {
	return &Cluster{nodeID: nodeID, role: RoleIndexer, nodes: []string{nodeID}}
}

// NodeID returns this node's id.
func (c *Cluster) NodeID() string { return c.nodeID }

// Role returns this node's role.
func (c *Cluster) Role() Role { return c.role }

// Size returns the indexer count.
func (c *Cluster) Size() int { return len(c.nodes) }

// OwnerOf returns the indexer responsible for a namespace.
func (c *Cluster) OwnerOf(namespace string) string {
	idx := xxhash.Sum64String(namespace) % uint64(len(c.nodes))
	return c.nodes[idx]
}

// Owns reports whether this node owns the namespace for writes.
func (c *Cluster) Owns(namespace string) bool {
	return c.role == RoleIndexer && c.OwnerOf(namespace) == c.nodeID
}

// CheckWrite returns a WrongOwner redirect when this node must not accept
// a write for the namespace.
func (c *Cluster) CheckWrite(namespace string) error {
	if c.role == RoleQuery {
		return elacsym.WrongOwner(namespace, c.OwnerOf(namespace))
	}
	if owner := c.OwnerOf(namespace); owner != c.nodeID {
		return elacsym.WrongOwner(namespace, owner)
	}
	return nil
}
