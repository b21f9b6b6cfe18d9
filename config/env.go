package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment overrides use the fixed mapping: the uppercase dotted path
// with dots replaced by underscores, prefixed ELACSYM_. For example,
// storage.s3.bucket becomes ELACSYM_STORAGE_S3_BUCKET.
func applyEnv(cfg *Config, getenv func(string) string) error {
	set := func(key string, apply func(v string) error) error {
		if v := getenv("ELACSYM_" + key); v != "" {
			if err := apply(v); err != nil {
				return fmt.Errorf("invalid ELACSYM_%s: %w", key, err)
			}
		}
		return nil
	}
	setStr := func(key string, dst *string) error {
		return set(key, func(v string) error { *dst = v; return nil })
	}
	setInt := func(key string, dst *int) error {
		return set(key, func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	setInt64 := func(key string, dst *int64) error {
		return set(key, func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	setBool := func(key string, dst *bool) error {
		return set(key, func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		})
	}

	steps := []func() error{
		func() error { return setStr("SERVER_HOST", &cfg.Server.Host) },
		func() error { return setInt("SERVER_PORT", &cfg.Server.Port) },
		func() error { return setStr("STORAGE_BACKEND", &cfg.Storage.Backend) },
		func() error { return setStr("STORAGE_LOCAL_ROOT", &cfg.Storage.Local.Root) },
		func() error { return setStr("STORAGE_S3_BUCKET", &cfg.Storage.S3.Bucket) },
		func() error { return setStr("STORAGE_S3_REGION", &cfg.Storage.S3.Region) },
		func() error { return setStr("STORAGE_S3_ENDPOINT", &cfg.Storage.S3.Endpoint) },
		func() error { return setStr("STORAGE_S3_DYNAMODB_TABLE", &cfg.Storage.S3.DynamoDBTable) },
		func() error { return setStr("STORAGE_S3_WAL_PREFIX", &cfg.Storage.S3.WALPrefix) },
		func() error { return setStr("STORAGE_MINIO_ENDPOINT", &cfg.Storage.Minio.Endpoint) },
		func() error { return setStr("STORAGE_MINIO_ACCESS_KEY", &cfg.Storage.Minio.AccessKey) },
		func() error { return setStr("STORAGE_MINIO_SECRET_KEY", &cfg.Storage.Minio.SecretKey) },
		func() error { return setBool("STORAGE_MINIO_USE_SSL", &cfg.Storage.Minio.UseSSL) },
		func() error { return setStr("STORAGE_MINIO_BUCKET", &cfg.Storage.Minio.Bucket) },
		func() error { return setStr("STORAGE_MINIO_WAL_PREFIX", &cfg.Storage.Minio.WALPrefix) },
		func() error { return setInt64("CACHE_MEMORY_SIZE", &cfg.Cache.MemorySize) },
		func() error { return setInt64("CACHE_DISK_SIZE", &cfg.Cache.DiskSize) },
		func() error { return setStr("CACHE_DISK_PATH", &cfg.Cache.DiskPath) },
		func() error { return setStr("INDEX_DEFAULT_METRIC", &cfg.Index.DefaultMetric) },
		func() error { return setBool("COMPACTION_ENABLED", &cfg.Compaction.Enabled) },
		func() error { return setInt("COMPACTION_INTERVAL_SECS", &cfg.Compaction.IntervalSecs) },
		func() error { return setInt("COMPACTION_MAX_SEGMENTS", &cfg.Compaction.MaxSegments) },
		func() error { return setInt("COMPACTION_MAX_TOTAL_DOCS", &cfg.Compaction.MaxTotalDocs) },
		func() error { return setInt("COMPACTION_MERGE_BATCH", &cfg.Compaction.MergeBatch) },
		func() error { return setInt("COMPACTION_RETAIN_MINUTES", &cfg.Compaction.RetainMinutes) },
		func() error { return setStr("LOGGING_LEVEL", &cfg.Logging.Level) },
		func() error { return setStr("LOGGING_FORMAT", &cfg.Logging.Format) },
		func() error { return setBool("DISTRIBUTED_ENABLED", &cfg.Distributed.Enabled) },
		func() error { return setStr("DISTRIBUTED_NODE_ID", &cfg.Distributed.NodeID) },
		func() error { return setStr("DISTRIBUTED_ROLE", &cfg.Distributed.Role) },
		func() error {
			return set("DISTRIBUTED_INDEXER_CLUSTER_NODES", func(v string) error {
				parts := strings.Split(v, ",")
				nodes := parts[:0]
				for _, p := range parts {
					if p = strings.TrimSpace(p); p != "" {
						nodes = append(nodes, p)
					}
				}
				cfg.Distributed.IndexerCluster.Nodes = nodes
				return nil
			})
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
