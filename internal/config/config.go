// Package config loads cafpackd/cafservd/cafctl configuration from
// YAML. Environment overrides take precedence, matching the teacher's
// own config loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainMode names the network (mainnet or testnet) a worker belongs
// to. It is loaded and logged at startup; the blob-service endpoint
// comes from BlobServiceConfig and does not change with ChainMode.
type ChainMode string

const (
	ChainMainnet ChainMode = "mainnet"
	ChainTestnet ChainMode = "testnet"
)

// Config holds every resolved setting needed to wire up cafpackd,
// cafservd, or cafctl. Paths use XDG defaults when not set in the file
// or environment.
type Config struct {
	WorkerID  int64     `yaml:"worker_id"`
	ChainMode ChainMode `yaml:"chain_mode"`

	CAFMaxSizeGB      float64 `yaml:"caf_max_size_gb"`
	CAFTimeoutMinutes int     `yaml:"caf_timeout_minutes"`
	Prefetch          int     `yaml:"prefetch"`
	TempDir           string  `yaml:"temp_dir"`
	DownloadTimeoutMS int     `yaml:"download_timeout_ms"`
	KeepCAFFiles      bool    `yaml:"keep_caf_files"`

	QueueDir  string `yaml:"queue_dir"`
	CatalogDB string `yaml:"catalog_db"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	BlobService BlobServiceConfig `yaml:"blob_service"`

	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ObjectStoreConfig configures the upload-source object store.
type ObjectStoreConfig struct {
	Backend   string `yaml:"backend"` // "s3" or "fs"
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Root      string `yaml:"root"` // used by the fs backend
}

// BlobServiceConfig configures the remote blob/proof service.
type BlobServiceConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	SessionToken    string `yaml:"session_token"`
	ProofServiceURL string `yaml:"proof_service_url"`
}

// RetrievalConfig configures the cafservd HTTP façade.
type RetrievalConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// rawConfig stages the YAML file's contents before they are merged
// onto defaults, mirroring the teacher's own two-struct Load pattern.
type rawConfig struct {
	WorkerID  int64     `yaml:"worker_id"`
	ChainMode ChainMode `yaml:"chain_mode"`

	CAFMaxSizeGB      float64 `yaml:"caf_max_size_gb"`
	CAFTimeoutMinutes int     `yaml:"caf_timeout_minutes"`
	Prefetch          int     `yaml:"prefetch"`
	TempDir           string  `yaml:"temp_dir"`
	DownloadTimeoutMS int     `yaml:"download_timeout_ms"`
	KeepCAFFiles      bool    `yaml:"keep_caf_files"`

	QueueDir  string `yaml:"queue_dir"`
	CatalogDB string `yaml:"catalog_db"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	BlobService BlobServiceConfig `yaml:"blob_service"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
}

// MaxContainerBytes converts CAFMaxSizeGB to bytes.
func (c *Config) MaxContainerBytes() int64 {
	return int64(c.CAFMaxSizeGB * 1024 * 1024 * 1024)
}

// InactivityTimeout converts CAFTimeoutMinutes to a duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.CAFTimeoutMinutes) * time.Minute
}

// DownloadTimeout converts DownloadTimeoutMS to a duration.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutMS) * time.Millisecond
}

// ListenPort derives the deterministic HTTP port for a worker, per
// the 6700+worker_id convention.
func (c *Config) ListenPort() int {
	return 6700 + int(c.WorkerID)
}

// Load reads config from path (or CAFPACK_CONFIG, or the XDG default
// path when empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	dataHome := xdgDataHome()

	if path == "" {
		if v := os.Getenv("CAFPACK_CONFIG"); v != "" {
			path = v
		} else {
			path = filepath.Join(xdgConfigHome(), "cafpack", "config.yaml")
		}
	}

	c := &Config{
		WorkerID:          1,
		ChainMode:         ChainTestnet,
		CAFMaxSizeGB:      32,
		CAFTimeoutMinutes: 5,
		Prefetch:          1,
		TempDir:           filepath.Join(dataHome, "cafpack", "tmp"),
		DownloadTimeoutMS: 300_000,
		QueueDir:          filepath.Join(dataHome, "cafpack", "queue"),
		CatalogDB:         filepath.Join(dataHome, "cafpack", "catalog.db"),
		ObjectStore:       ObjectStoreConfig{Backend: "fs", Root: filepath.Join(dataHome, "cafpack", "objects")},
	}

	b, err := os.ReadFile(path)
	if err == nil {
		var raw rawConfig
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		applyRaw(c, &raw, dataHome)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(c)

	if c.CAFMaxSizeGB > 32 {
		c.CAFMaxSizeGB = 32
	}
	return c, nil
}

func applyRaw(c *Config, raw *rawConfig, dataHome string) {
	if raw.WorkerID > 0 {
		c.WorkerID = raw.WorkerID
	}
	if raw.ChainMode != "" {
		c.ChainMode = raw.ChainMode
	}
	if raw.CAFMaxSizeGB > 0 {
		c.CAFMaxSizeGB = raw.CAFMaxSizeGB
	}
	if raw.CAFTimeoutMinutes > 0 {
		c.CAFTimeoutMinutes = raw.CAFTimeoutMinutes
	}
	if raw.Prefetch > 0 {
		c.Prefetch = raw.Prefetch
	}
	if raw.TempDir != "" {
		c.TempDir = resolvePath(raw.TempDir, dataHome)
	}
	if raw.DownloadTimeoutMS > 0 {
		c.DownloadTimeoutMS = raw.DownloadTimeoutMS
	}
	c.KeepCAFFiles = raw.KeepCAFFiles
	if raw.QueueDir != "" {
		c.QueueDir = resolvePath(raw.QueueDir, dataHome)
	}
	if raw.CatalogDB != "" {
		c.CatalogDB = resolvePath(raw.CatalogDB, dataHome)
	}
	if raw.ObjectStore.Backend != "" {
		c.ObjectStore = raw.ObjectStore
	}
	c.BlobService = raw.BlobService
	if len(raw.Retrieval.AllowedOrigins) > 0 {
		c.Retrieval = raw.Retrieval
	}
}

func applyEnv(c *Config) {
	if v := os.Getenv("CAFPACK_WORKER_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WorkerID = n
		}
	}
	if v := os.Getenv("CAFPACK_CHAIN_MODE"); v != "" {
		c.ChainMode = ChainMode(v)
	}
	if v := os.Getenv("CAFPACK_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("CAFPACK_QUEUE_DIR"); v != "" {
		c.QueueDir = v
	}
	if v := os.Getenv("CAFPACK_CATALOG_DB"); v != "" {
		c.CatalogDB = v
	}
	if v := os.Getenv("CAFPACK_OBJECT_STORE_ACCESS_KEY"); v != "" {
		c.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("CAFPACK_OBJECT_STORE_SECRET_KEY"); v != "" {
		c.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("CAFPACK_BLOB_SERVICE_ACCESS_KEY"); v != "" {
		c.BlobService.AccessKey = v
	}
	if v := os.Getenv("CAFPACK_BLOB_SERVICE_SECRET_KEY"); v != "" {
		c.BlobService.SecretKey = v
	}
	if v := os.Getenv("CAFPACK_BLOB_SERVICE_PROOF_URL"); v != "" {
		c.BlobService.ProofServiceURL = v
	}
}

func xdgDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

// resolvePath expands $XDG_DATA_HOME, $XDG_CONFIG_HOME, $HOME in paths
// from the config file.
func resolvePath(p, dataHome string) string {
	return filepath.Clean(os.Expand(p, func(key string) string {
		switch key {
		case "XDG_DATA_HOME":
			return dataHome
		case "XDG_CONFIG_HOME":
			return xdgConfigHome()
		case "HOME":
			home, _ := os.UserHomeDir()
			return home
		}
		return ""
	}))
}
