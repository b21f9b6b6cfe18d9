package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	Server      Server      `yaml:"server"`
	Storage     Storage     `yaml:"storage"`
	Cache       Cache       `yaml:"cache"`
	Index       Index       `yaml:"index"`
	Compaction  Compaction  `yaml:"compaction"`
	Logging     Logging     `yaml:"logging"`
	Distributed Distributed `yaml:"distributed"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Storage struct {
	// Backend selects "local", "s3", or "minio".
	Backend string       `yaml:"backend"`
	Local   LocalStorage `yaml:"local"`
	S3      S3Storage    `yaml:"s3"`
	Minio   MinioStorage `yaml:"minio"`
}

type LocalStorage struct {
	Root string `yaml:"root"`
}

type S3Storage struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// DynamoDBTable routes manifest pointer swaps through DynamoDB
	// compare-and-swap, for buckets without PutObject preconditions.
	DynamoDBTable string `yaml:"dynamodb_table"`
	WALPrefix     string `yaml:"wal_prefix"`
}

type MinioStorage struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	WALPrefix string `yaml:"wal_prefix"`
}

type Cache struct {
	MemorySize int64  `yaml:"memory_size"`
	DiskSize   int64  `yaml:"disk_size"`
	DiskPath   string `yaml:"disk_path"`
}

type Index struct {
	// DefaultMetric applies to new namespaces that omit a metric.
	DefaultMetric string `yaml:"default_metric"`
}

type Compaction struct {
	Enabled       bool `yaml:"enabled"`
	IntervalSecs  int  `yaml:"interval_secs"`
	MaxSegments   int  `yaml:"max_segments"`
	MaxTotalDocs  int  `yaml:"max_total_docs"`
	MergeBatch    int  `yaml:"merge_batch"`
	RetainMinutes int  `yaml:"retain_minutes"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Distributed struct {
	Enabled        bool           `yaml:"enabled"`
	NodeID         string         `yaml:"node_id"`
	Role           string         `yaml:"role"`
	IndexerCluster IndexerCluster `yaml:"indexer_cluster"`
}

type IndexerCluster struct {
	Nodes []string `yaml:"nodes"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: Server{Host: "0.0.0.0", Port: 3000},
		Storage: Storage{
			Backend: "local",
			Local:   LocalStorage{Root: "./data"},
		},
		Cache: Cache{
			MemorySize: 4 << 30,
			DiskSize:   100 << 30,
			DiskPath:   "./cache",
		},
		Index: Index{DefaultMetric: "cosine"},
		Compaction: Compaction{
			Enabled:       true,
			IntervalSecs:  3600,
			MaxSegments:   100,
			MaxTotalDocs:  1_000_000,
			MergeBatch:    10,
			RetainMinutes: 15,
		},
		Logging:     Logging{Level: "info", Format: "json"},
		Distributed: Distributed{Role: "indexer"},
	}
}

// Load reads path (if it exists), applies environment overrides, and
// validates. An empty path checks only the environment and defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// No file: defaults + env only.
		case err != nil:
			return cfg, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root must be set")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must be set")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region must be set")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint must be set")
		}
		if c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.bucket must be set")
		}
	default:
		return fmt.Errorf("storage.backend must be local, s3, or minio, got %q", c.Storage.Backend)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Distributed.Enabled {
		if c.Storage.Backend != "s3" && c.Storage.Backend != "minio" {
			return fmt.Errorf("distributed mode requires an object-store backend (s3 or minio)")
		}
		if c.Distributed.NodeID == "" {
			return fmt.Errorf("distributed.node_id must be set")
		}
		switch c.Distributed.Role {
		case "indexer", "query":
		default:
			return fmt.Errorf("distributed.role must be indexer or query, got %q", c.Distributed.Role)
		}
		if len(c.Distributed.IndexerCluster.Nodes) == 0 {
			return fmt.Errorf("distributed.indexer_cluster.nodes must not be empty")
		}
	}
	return nil
}
