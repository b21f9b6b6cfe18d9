package namespace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/cache"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/metrics"
	"github.com/lqhl/elacsym/model"
	"github.com/lqhl/elacsym/wal"
)

// CompactionConfig carries the background maintenance thresholds.
type CompactionConfig struct {
	Enabled      bool
	MaxSegments  int
	MaxTotalDocs int
	MergeBatch   int
}

// DefaultCompaction matches the configuration surface defaults.
var DefaultCompaction = CompactionConfig{
	Enabled:      true,
	MaxSegments:  100,
	MaxTotalDocs: 1_000_000,
	MergeBatch:   10,
}

// Deps are the shared services a namespace runs on.
type Deps struct {
	Blob      blobstore.Store
	Cache     *cache.Cache
	Manifests *manifest.Store
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Pool bounds CPU-bound per-segment work. Nil runs inline.
	Pool   *ants.Pool
	NodeID string
	// OpenWAL creates the namespace's write-ahead log. Nil namespaces
	// are read-only (query nodes).
	OpenWAL func(ns string) (wal.Log, error)
	// Compaction thresholds; zero value disables compaction.
	Compaction CompactionConfig
	// FilterFirstThreshold overrides the planner's survivors-per-segment
	// cutoff; zero keeps the default.
	FilterFirstThreshold int
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Namespace is the per-tenant engine façade.
type Namespace struct {
	name   string
	deps   Deps
	logger *slog.Logger

	// writeMu serializes the write path (single-writer per namespace).
	writeMu sync.Mutex

	// mu guards the current manifest snapshot on owner nodes.
	mu      sync.RWMutex
	current *manifest.Manifest

	// wal is nil on read-only (query node) namespaces.
	wal wal.Log
}

// Create validates the schema, publishes the initial manifest, and opens
// the namespace for writes.
func Create(ctx context.Context, deps Deps, name string, schema model.Schema) (*Namespace, error) {
	if name == "" {
		return nil, elacsym.E(elacsym.KindInvalidRequest, "namespace name must not be empty")
	}
	if err := schema.Validate(); err != nil {
		return nil, elacsym.Wrap(elacsym.KindInvalidRequest, err, "invalid schema")
	}

	m := manifest.New(name, schema)
	if err := deps.Manifests.Create(ctx, m); err != nil {
		return nil, err
	}
	ns := &Namespace{
		name:    name,
		deps:    deps,
		logger:  deps.logger().With("namespace", name),
		current: m,
	}
	if deps.OpenWAL != nil {
		log, err := deps.OpenWAL(name)
		if err != nil {
			return nil, err
		}
		ns.wal = log
	}
	return ns, nil
}

// Open loads an existing namespace for writes and replays any WAL
// entries that survived a crash.
func Open(ctx context.Context, deps Deps, name string) (*Namespace, error) {
	m, err := deps.Manifests.Load(ctx, name, manifest.Strong)
	if err != nil {
		return nil, err
	}
	ns := &Namespace{
		name:    name,
		deps:    deps,
		logger:  deps.logger().With("namespace", name),
		current: m,
	}
	if deps.OpenWAL != nil {
		log, err := deps.OpenWAL(name)
		if err != nil {
			return nil, err
		}
		ns.wal = log
		if err := ns.recover(ctx); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

// OpenReadOnly loads a namespace for query-node reads: no WAL, no
// recovery, manifests resolved per request.
func OpenReadOnly(ctx context.Context, deps Deps, name string) (*Namespace, error) {
	if _, err := deps.Manifests.Load(ctx, name, manifest.Strong); err != nil {
		return nil, err
	}
	return &Namespace{
		name:   name,
		deps:   deps,
		logger: deps.logger().With("namespace", name),
	}, nil
}

// Name returns the namespace name.
func (ns *Namespace) Name() string { return ns.name }

// ReadOnly reports whether this instance can accept writes.
func (ns *Namespace) ReadOnly() bool { return ns.wal == nil }

// Schema returns the namespace schema from the latest known manifest.
func (ns *Namespace) Schema(ctx context.Context) (model.Schema, error) {
	m, err := ns.snapshot(ctx, manifest.Eventual)
	if err != nil {
		return model.Schema{}, err
	}
	return m.Schema, nil
}

// Stats returns the manifest's aggregate stats block.
func (ns *Namespace) Stats(ctx context.Context) (model.NamespaceStats, error) {
	m, err := ns.snapshot(ctx, manifest.Eventual)
	if err != nil {
		return model.NamespaceStats{}, err
	}
	return m.Stats, nil
}

// snapshot resolves the manifest this request reads from. Owner nodes
// hold the latest manifest in memory; read-only instances resolve through
// the manifest store at the requested consistency.
func (ns *Namespace) snapshot(ctx context.Context, c manifest.Consistency) (*manifest.Manifest, error) {
	ns.mu.RLock()
	cur := ns.current
	ns.mu.RUnlock()
	if cur != nil {
		return cur, nil
	}
	return ns.deps.Manifests.Load(ctx, ns.name, c)
}

// swapManifest installs a newly published manifest as the read snapshot.
func (ns *Namespace) swapManifest(m *manifest.Manifest) {
	ns.mu.Lock()
	ns.current = m
	ns.mu.Unlock()
}

// Close releases the WAL handle.
func (ns *Namespace) Close() error {
	if ns.wal != nil {
		return ns.wal.Close()
	}
	return nil
}

// runTasks executes tasks on the shared pool (or inline without one) and
// returns the first error. Tasks always all run; cancellation is observed
// by the tasks themselves at their suspension points.
func (ns *Namespace) runTasks(tasks []func() error) error {
	if len(tasks) == 1 || ns.deps.Pool == nil {
		var first error
		for _, task := range tasks {
			if err := task(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var first error
	for _, task := range tasks {
		task := task
		wg.Add(1)
		submit := func() {
			defer wg.Done()
			if err := task(); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		}
		if err := ns.deps.Pool.Submit(submit); err != nil {
			// Pool saturated or closed: run inline.
			submit()
		}
	}
	wg.Wait()
	return first
}
