// Command elacsym runs the hybrid search engine: a single combined node
// by default, or one member of a sharded indexer/query deployment.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/lqhl/elacsym/blobstore"
	miniostore "github.com/lqhl/elacsym/blobstore/minio"
	s3store "github.com/lqhl/elacsym/blobstore/s3"
	"github.com/lqhl/elacsym/cache"
	"github.com/lqhl/elacsym/config"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/metrics"
	"github.com/lqhl/elacsym/namespace"
	"github.com/lqhl/elacsym/routing"
	"github.com/lqhl/elacsym/wal"
)

const version = "0.3.0"

func main() {
	app := &cli.App{
		Name:    "elacsym",
		Usage:   "object-storage-first hybrid search engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   "config.yaml",
				EnvVars: []string{"ELACSYM_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the node until interrupted",
				Action: runCmd,
			},
			{
				Name:  "compact",
				Usage: "trigger one compaction pass for a namespace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "namespace", Required: true},
				},
				Action: compactCmd,
			},
			{
				Name:  "export",
				Usage: "export a namespace's documents as JSON lines",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "namespace", Required: true},
					&cli.StringFlag{Name: "out", Usage: "output file (default stdout)"},
				},
				Action: exportCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "elacsym:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

type node struct {
	cfg     config.Config
	logger  *slog.Logger
	manager *namespace.Manager
	pool    *ants.Pool
}

func (n *node) close() {
	_ = n.manager.Close()
	if n.pool != nil {
		n.pool.Release()
	}
}

// setup assembles the engine from configuration.
func setup(c *cli.Context) (*node, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)

	if cfg.Distributed.NodeID == "" {
		// Single-node deployments get an ephemeral identity; WAL file
		// names embed it so concurrent processes never collide.
		cfg.Distributed.NodeID = "node-" + uuid.NewString()[:8]
	}

	var store blobstore.Store
	var openWAL func(ns string) (wal.Log, error)
	objectWAL := func(st blobstore.Store, walBase string) func(ns string) (wal.Log, error) {
		nodeID := cfg.Distributed.NodeID
		return func(ns string) (wal.Log, error) {
			prefix := ns + "/wal/"
			if walBase != "" {
				prefix = walBase + "/" + prefix
			}
			return wal.OpenObjectLog(st, prefix, nodeID, logger), nil
		}
	}
	switch cfg.Storage.Backend {
	case "s3":
		s3, err := s3store.New(c.Context, s3store.Options{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			PointerTable: cfg.Storage.S3.DynamoDBTable,
		})
		if err != nil {
			return nil, err
		}
		store = blobstore.NewRetryingStore(s3, blobstore.DefaultRetryOptions)
		openWAL = objectWAL(store, cfg.Storage.S3.WALPrefix)
	case "minio":
		mc, err := miniostore.New(miniostore.Options{
			Endpoint:  cfg.Storage.Minio.Endpoint,
			AccessKey: cfg.Storage.Minio.AccessKey,
			SecretKey: cfg.Storage.Minio.SecretKey,
			UseSSL:    cfg.Storage.Minio.UseSSL,
			Bucket:    cfg.Storage.Minio.Bucket,
		})
		if err != nil {
			return nil, err
		}
		store = blobstore.NewRetryingStore(mc, blobstore.DefaultRetryOptions)
		openWAL = objectWAL(store, cfg.Storage.Minio.WALPrefix)
	default:
		local, err := blobstore.NewLocalStore(cfg.Storage.Local.Root)
		if err != nil {
			return nil, err
		}
		store = local
		walRoot := filepath.Join(cfg.Storage.Local.Root, "wal")
		nodeID := cfg.Distributed.NodeID
		openWAL = func(ns string) (wal.Log, error) {
			return wal.OpenFileLog(filepath.Join(walRoot, ns), nodeID, wal.FileOptions{Logger: logger})
		}
	}

	blockCache, err := cache.New(cache.Options{
		MemorySize: cfg.Cache.MemorySize,
		DiskSize:   cfg.Cache.DiskSize,
		DiskPath:   cfg.Cache.DiskPath,
	})
	if err != nil {
		return nil, err
	}

	var cluster *routing.Cluster
	if cfg.Distributed.Enabled {
		role, err := routing.ParseRole(cfg.Distributed.Role)
		if err != nil {
			return nil, err
		}
		cluster, err = routing.NewCluster(cfg.Distributed.NodeID, role, cfg.Distributed.IndexerCluster.Nodes)
		if err != nil {
			return nil, fmt.Errorf("role/cluster assertion failed: %w", err)
		}
	}

	pool, err := ants.NewPool(2 * runtime.NumCPU())
	if err != nil {
		return nil, err
	}

	mets := metrics.New(prometheus.DefaultRegisterer)
	deps := namespace.Deps{
		Blob:      store,
		Cache:     blockCache,
		Manifests: manifest.NewStore(store, blockCache, logger),
		Logger:    logger,
		Metrics:   mets,
		Pool:      pool,
		NodeID:    cfg.Distributed.NodeID,
		OpenWAL:   openWAL,
		Compaction: namespace.CompactionConfig{
			Enabled:      cfg.Compaction.Enabled,
			MaxSegments:  cfg.Compaction.MaxSegments,
			MaxTotalDocs: cfg.Compaction.MaxTotalDocs,
			MergeBatch:   cfg.Compaction.MergeBatch,
		},
	}
	if cluster != nil && cluster.Role() == routing.RoleQuery {
		deps.OpenWAL = nil
	}

	return &node{
		cfg:     cfg,
		logger:  logger,
		manager: namespace.NewManager(deps, cluster),
		pool:    pool,
	}, nil
}

func runCmd(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go n.manager.RunCompactionLoop(ctx, time.Duration(n.cfg.Compaction.IntervalSecs)*time.Second)

	n.logger.Info("elacsym started",
		"version", version,
		"node", n.manager.Cluster().NodeID(),
		"role", n.manager.Cluster().Role().String(),
		"bind", fmt.Sprintf("%s:%d", n.cfg.Server.Host, n.cfg.Server.Port),
		"backend", n.cfg.Storage.Backend)

	<-ctx.Done()
	n.logger.Info("elacsym shutting down")
	return nil
}

func compactCmd(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	name := c.String("namespace")
	ns, err := n.manager.Get(c.Context, name)
	if err != nil {
		return err
	}
	if err := ns.Compact(c.Context); err != nil {
		return err
	}
	n.logger.Info("compaction complete", "namespace", name)
	return nil
}

func exportCmd(c *cli.Context) error {
	n, err := setup(c)
	if err != nil {
		return err
	}
	defer n.close()

	name := c.String("namespace")
	ns, err := n.manager.Get(c.Context, name)
	if err != nil {
		return err
	}

	out := os.Stdout
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	docs, err := ns.Export(c.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	n.logger.Info("export complete", "namespace", name, "documents", len(docs))
	return nil
}
