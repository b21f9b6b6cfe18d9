package namespace

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/model"
	"github.com/lqhl/elacsym/routing"
)

// Manager owns the namespaces resident on one node: lazy loading, write
// routing, deletion, and the background compaction loop.
type Manager struct {
	deps    Deps
	cluster *routing.Cluster
	logger  *slog.Logger

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// NewManager creates a Manager. cluster may be nil for single-node mode.
func NewManager(deps Deps, cluster *routing.Cluster) *Manager {
	if cluster == nil {
		cluster = routing.SingleNode(deps.NodeID)
	}
	return &Manager{
		deps:       deps,
		cluster:    cluster,
		logger:     deps.logger().With("component", "manager"),
		namespaces: make(map[string]*Namespace),
	}
}

// Cluster exposes the routing view (health and redirects).
func (mgr *Manager) Cluster() *routing.Cluster { return mgr.cluster }

// CreateNamespace creates (or reports an existing) namespace. Returns
// created=false when the namespace already existed.
func (mgr *Manager) CreateNamespace(ctx context.Context, name string, schema model.Schema) (*Namespace, bool, error) {
	if err := mgr.cluster.CheckWrite(name); err != nil {
		return nil, false, err
	}

	mgr.mu.Lock()
	if ns, ok := mgr.namespaces[name]; ok {
		mgr.mu.Unlock()
		return ns, false, nil
	}
	mgr.mu.Unlock()

	exists, err := mgr.deps.Manifests.Exists(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if exists {
		ns, err := mgr.Get(ctx, name)
		return ns, false, err
	}

	ns, err := Create(ctx, mgr.deps, name, schema)
	if err != nil {
		if elacsym.IsKind(err, elacsym.KindConflict) {
			// Lost the create race; load what won.
			loaded, lerr := mgr.Get(ctx, name)
			return loaded, false, lerr
		}
		return nil, false, err
	}

	mgr.mu.Lock()
	mgr.namespaces[name] = ns
	mgr.mu.Unlock()
	return ns, true, nil
}

// Get returns the resident namespace, loading it on first use. Owner
// nodes open for writes (with recovery); other nodes open read-only.
func (mgr *Manager) Get(ctx context.Context, name string) (*Namespace, error) {
	mgr.mu.Lock()
	if ns, ok := mgr.namespaces[name]; ok {
		mgr.mu.Unlock()
		return ns, nil
	}
	mgr.mu.Unlock()

	var ns *Namespace
	var err error
	if mgr.cluster.Owns(name) {
		ns, err = Open(ctx, mgr.deps, name)
	} else {
		ns, err = OpenReadOnly(ctx, mgr.deps, name)
	}
	if err != nil {
		return nil, err
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if existing, ok := mgr.namespaces[name]; ok {
		_ = ns.Close()
		return existing, nil
	}
	mgr.namespaces[name] = ns
	return ns, nil
}

// DeleteNamespace removes the pointer synchronously and the namespace's
// data asynchronously.
func (mgr *Manager) DeleteNamespace(ctx context.Context, name string) error {
	if err := mgr.cluster.CheckWrite(name); err != nil {
		return err
	}

	mgr.mu.Lock()
	if ns, ok := mgr.namespaces[name]; ok {
		_ = ns.Close()
		delete(mgr.namespaces, name)
	}
	mgr.mu.Unlock()

	if err := mgr.deps.Manifests.Delete(ctx, name); err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := blobstore.DeleteAll(ctx, mgr.deps.Blob, name+"/"); err != nil {
			mgr.logger.Warn("async namespace prefix removal failed",
				"namespace", name, "error", err)
		}
	}()
	return nil
}

// List enumerates namespaces present in the store.
func (mgr *Manager) List(ctx context.Context) ([]string, error) {
	keys, err := mgr.deps.Blob.List(ctx, "")
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "list namespaces")
	}
	seen := make(map[string]struct{})
	var names []string
	for _, key := range keys {
		if !strings.HasSuffix(key, "/manifests/current.txt") {
			continue
		}
		name := strings.TrimSuffix(key, "/manifests/current.txt")
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ResidentCount returns the number of loaded namespaces (health).
func (mgr *Manager) ResidentCount() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.namespaces)
}

// RunCompactionLoop evaluates the compaction triggers on a timer until
// ctx is cancelled. Query nodes never run it.
func (mgr *Manager) RunCompactionLoop(ctx context.Context, interval time.Duration) {
	if mgr.cluster.Role() == routing.RoleQuery || !mgr.deps.Compaction.Enabled {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.compactPass(ctx)
		}
	}
}

func (mgr *Manager) compactPass(ctx context.Context) {
	names, err := mgr.List(ctx)
	if err != nil {
		mgr.logger.Warn("compaction pass listing failed", "error", err)
		return
	}
	for _, name := range names {
		if !mgr.cluster.Owns(name) {
			continue
		}
		ns, err := mgr.Get(ctx, name)
		if err != nil {
			mgr.logger.Warn("compaction pass load failed", "namespace", name, "error", err)
			continue
		}
		due, err := ns.ShouldCompact(ctx)
		if err != nil || !due {
			continue
		}
		if err := ns.Compact(ctx); err != nil {
			mgr.logger.Warn("compaction failed", "namespace", name, "error", err)
		}
	}
	mgr.GC(ctx, DefaultManifestRetention)
}

// DefaultManifestRetention keeps this many recent manifest versions for
// in-flight readers before GC removes older ones.
const DefaultManifestRetention = 10

// GC prunes manifest versions past the retention horizon for every
// resident namespace.
func (mgr *Manager) GC(ctx context.Context, keepVersions uint64) {
	mgr.mu.Lock()
	resident := make([]*Namespace, 0, len(mgr.namespaces))
	for _, ns := range mgr.namespaces {
		resident = append(resident, ns)
	}
	mgr.mu.Unlock()

	for _, ns := range resident {
		m, err := ns.snapshot(ctx, manifest.Eventual)
		if err != nil {
			continue
		}
		if err := mgr.deps.Manifests.GC(ctx, ns.name, m.Version, keepVersions); err != nil {
			mgr.logger.Warn("manifest gc failed", "namespace", ns.name, "error", err)
		}
	}
}

// Close releases every resident namespace.
func (mgr *Manager) Close() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	var firstErr error
	for name, ns := range mgr.namespaces {
		if err := ns.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(mgr.namespaces, name)
	}
	return firstErr
}
