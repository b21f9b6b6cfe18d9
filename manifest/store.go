package manifest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/cache"
)

// Consistency selects how fresh a loaded manifest must be.
type Consistency uint8

const (
	// Strong revalidates the pointer on every read.
	Strong Consistency = iota
	// Eventual serves a pointer cached within the TTL.
	Eventual
)

// ParseConsistency parses "strong" / "eventual" (empty means strong).
func ParseConsistency(s string) (Consistency, error) {
	switch s {
	case "", "strong":
		return Strong, nil
	case "eventual":
		return Eventual, nil
	default:
		return 0, elacsym.E(elacsym.KindInvalidRequest, "unknown consistency level %q", s)
	}
}

// DefaultPointerTTL bounds staleness of eventual reads.
const DefaultPointerTTL = time.Second

// publishRetries bounds pointer CAS attempts. Under the sharding
// invariant a mismatch means another writer exists, which is unexpected;
// retries re-read and log.
const publishRetries = 5

// Store reads and publishes manifests for all namespaces on a node.
type Store struct {
	blob       blobstore.Store
	cache      *cache.Cache
	logger     *slog.Logger
	pointerTTL time.Duration

	mu       sync.Mutex
	pointers map[string]cachedPointer
	etags    map[string]string // namespace -> last observed pointer etag
}

type cachedPointer struct {
	ptr     Pointer
	fetched time.Time
}

// NewStore creates a manifest store. cache may be nil (no caching).
func NewStore(blob blobstore.Store, c *cache.Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		blob:       blob,
		cache:      c,
		logger:     logger.With("component", "manifest"),
		pointerTTL: DefaultPointerTTL,
		pointers:   make(map[string]cachedPointer),
		etags:      make(map[string]string),
	}
}

// Exists reports whether the namespace has a published pointer.
func (s *Store) Exists(ctx context.Context, ns string) (bool, error) {
	ok, err := blobstore.Exists(ctx, s.blob, PointerKey(ns))
	if err != nil {
		return false, elacsym.Wrap(elacsym.KindStorage, err, "stat manifest pointer")
	}
	return ok, nil
}

// Create publishes the initial manifest for a new namespace. Fails with
// Conflict if the namespace already exists.
func (s *Store) Create(ctx context.Context, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return elacsym.Wrap(elacsym.KindInvalidRequest, err, "encode manifest")
	}
	if err := s.blob.Put(ctx, VersionKey(m.Namespace, m.Version), data); err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "write manifest version")
	}
	ptr := EncodePointer(Pointer{Version: m.Version, WALWatermark: m.WALWatermark})
	etag, err := s.blob.PutIf(ctx, PointerKey(m.Namespace), ptr, blobstore.Condition{IfNoneMatch: true})
	if err != nil {
		if errors.Is(err, blobstore.ErrPreconditionFailed) {
			return elacsym.E(elacsym.KindConflict, "namespace %q already exists", m.Namespace)
		}
		return elacsym.Wrap(elacsym.KindStorage, err, "write manifest pointer")
	}
	s.remember(m.Namespace, Pointer{Version: m.Version, WALWatermark: m.WALWatermark}, etag)
	return nil
}

// Publish writes the next manifest version and atomically swaps the
// pointer. m.Version must be the successor the caller derived from the
// version it read.
func (s *Store) Publish(ctx context.Context, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return elacsym.Wrap(elacsym.KindInvalidRequest, err, "encode manifest")
	}
	if err := s.blob.Put(ctx, VersionKey(m.Namespace, m.Version), data); err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "write manifest version")
	}

	ptrData := EncodePointer(Pointer{Version: m.Version, WALWatermark: m.WALWatermark})
	for attempt := 0; attempt < publishRetries; attempt++ {
		etag := s.lastETag(m.Namespace)
		cond := blobstore.Condition{IfMatch: etag}
		if etag == "" {
			cond = blobstore.Condition{IfNoneMatch: true}
		}
		newETag, err := s.blob.PutIf(ctx, PointerKey(m.Namespace), ptrData, cond)
		if err == nil {
			s.remember(m.Namespace, Pointer{Version: m.Version, WALWatermark: m.WALWatermark}, newETag)
			return nil
		}
		if !errors.Is(err, blobstore.ErrPreconditionFailed) {
			return elacsym.Wrap(elacsym.KindStorage, err, "swap manifest pointer")
		}

		// Another writer moved the pointer. The sharding invariant says
		// this should not happen; log, re-read, and retry if our version
		// still supersedes the published one.
		cur, curETag, rerr := s.readPointer(ctx, m.Namespace)
		if rerr != nil {
			return rerr
		}
		s.logger.Warn("manifest pointer swap lost a race",
			"namespace", m.Namespace, "ours", m.Version, "published", cur.Version)
		if cur.Version >= m.Version {
			return elacsym.E(elacsym.KindConflict,
				"manifest version %d already superseded by %d", m.Version, cur.Version)
		}
		s.remember(m.Namespace, cur, curETag)
	}
	return elacsym.E(elacsym.KindConflict, "manifest pointer swap failed after %d attempts", publishRetries)
}

func (s *Store) remember(ns string, ptr Pointer, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[ns] = cachedPointer{ptr: ptr, fetched: time.Now()}
	s.etags[ns] = etag
}

func (s *Store) lastETag(ns string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.etags[ns]
}

func (s *Store) readPointer(ctx context.Context, ns string) (Pointer, string, error) {
	info, err := s.blob.Head(ctx, PointerKey(ns))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Pointer{}, "", elacsym.E(elacsym.KindNotFound, "namespace %q not found", ns)
		}
		return Pointer{}, "", elacsym.Wrap(elacsym.KindStorage, err, "stat manifest pointer")
	}
	data, err := s.blob.Get(ctx, PointerKey(ns))
	if err != nil {
		return Pointer{}, "", elacsym.Wrap(elacsym.KindStorage, err, "read manifest pointer")
	}
	ptr, err := DecodePointer(data)
	if err != nil {
		return Pointer{}, "", elacsym.Wrap(elacsym.KindCorruption, err, "manifest pointer for %q", ns)
	}
	return ptr, info.ETag, nil
}

// Pointer resolves the current pointer at the requested consistency.
func (s *Store) Pointer(ctx context.Context, ns string, c Consistency) (Pointer, error) {
	if c == Eventual {
		s.mu.Lock()
		cached, ok := s.pointers[ns]
		s.mu.Unlock()
		if ok && time.Since(cached.fetched) < s.pointerTTL {
			return cached.ptr, nil
		}
	}
	ptr, etag, err := s.readPointer(ctx, ns)
	if err != nil {
		return Pointer{}, err
	}
	s.remember(ns, ptr, etag)
	return ptr, nil
}

// Load resolves the manifest at the requested consistency. Version
// objects are immutable, so they cache under their versioned key.
func (s *Store) Load(ctx context.Context, ns string, c Consistency) (*Manifest, error) {
	ptr, err := s.Pointer(ctx, ns, c)
	if err != nil {
		return nil, err
	}
	return s.LoadVersion(ctx, ns, ptr.Version)
}

// LoadVersion fetches one immutable manifest version.
func (s *Store) LoadVersion(ctx context.Context, ns string, version uint64) (*Manifest, error) {
	key := VersionKey(ns, version)
	fetch := func(ctx context.Context) ([]byte, error) {
		return s.blob.Get(ctx, key)
	}

	var data []byte
	var err error
	if s.cache != nil {
		data, err = s.cache.GetOrFetch(ctx, cache.ManifestKey(ns, version), fetch)
	} else {
		data, err = fetch(ctx)
	}
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, elacsym.E(elacsym.KindNotFound, "manifest v%d for %q not found", version, ns)
		}
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "read manifest v%d", version)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindCorruption, err, "manifest v%d for %q", version, ns)
	}
	return m, nil
}

// Delete removes the namespace pointer (namespace data removal is the
// caller's asynchronous prefix delete).
func (s *Store) Delete(ctx context.Context, ns string) error {
	if err := s.blob.Delete(ctx, PointerKey(ns)); err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "delete manifest pointer")
	}
	s.mu.Lock()
	delete(s.pointers, ns)
	delete(s.etags, ns)
	s.mu.Unlock()
	return nil
}

// GC deletes manifest versions older than the current by more than
// keepVersions. Only the version objects themselves are pruned; segment
// payloads referenced by retired manifests are not deleted.
func (s *Store) GC(ctx context.Context, ns string, current uint64, keepVersions uint64) error {
	if current <= keepVersions {
		return nil
	}
	horizon := current - keepVersions
	keys, err := s.blob.List(ctx, ns+"/manifests/")
	if err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "list manifests")
	}
	for _, key := range keys {
		v, ok := parseVersionKey(key, ns)
		if !ok {
			continue
		}
		if v < horizon {
			if err := s.blob.Delete(ctx, key); err != nil {
				return elacsym.Wrap(elacsym.KindStorage, err, "delete manifest %s", key)
			}
		}
	}
	return nil
}
