// Package config loads foodlab settings from YAML, .env files and FOODLAB_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"foodlab/internal/blob"
	"foodlab/internal/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FOODLAB_"

// Config is the full application configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Export  ExportConfig  `yaml:"export"`
	Import  ImportConfig  `yaml:"import"`
	Log     LogConfig     `yaml:"log"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the record slot driver and its location.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	FileRoot    string `yaml:"file_root"`
}

// BlobConfig selects where reports and backups are stored.
type BlobConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds the bucket and credentials of the s3 blob driver. Empty
// credentials fall back to the AWS default chain.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// ExportConfig selects the rasterizer. "summary" draws the aggregation summary,
// with FontPath supplying a CJK-capable face; "rod" screenshots DashboardURL in
// headless Chrome. Title names reports exported without an explicit title.
type ExportConfig struct {
	Rasterizer   string  `yaml:"rasterizer"`
	DashboardURL string  `yaml:"dashboard_url"`
	ChromeBin    string  `yaml:"chrome_bin"`
	Title        string  `yaml:"title"`
	Scale        float64 `yaml:"scale"`
	FontPath     string  `yaml:"font_path"`
}

// ImportConfig enables the inbox watcher when InboxDir is set.
type ImportConfig struct {
	InboxDir string `yaml:"inbox_dir"`
}

// LogConfig sets the zap level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Rasterizer names.
const (
	RasterizerSummary = "summary"
	RasterizerRod     = "rod"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8080"},
		Storage: StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: "foodlab.db", FileRoot: "foodlab-data"},
		Blob:    BlobConfig{Driver: string(blob.DriverFilesystem), FSRoot: "./artifacts"},
		Export:  ExportConfig{Rasterizer: RasterizerSummary, Title: "食品安全日报", Scale: 2},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads .env (when present), then path (when non-empty and present), then
// applies FOODLAB_* overrides. A missing config file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":            &c.HTTP.Addr,
		"STORAGE_DRIVER":       &c.Storage.Driver,
		"SQLITE_PATH":          &c.Storage.SQLitePath,
		"POSTGRES_DSN":         &c.Storage.PostgresDSN,
		"FILE_ROOT":            &c.Storage.FileRoot,
		"BLOB_DRIVER":          &c.Blob.Driver,
		"BLOB_FS_ROOT":         &c.Blob.FSRoot,
		"S3_REGION":            &c.Blob.S3.Region,
		"S3_BUCKET":            &c.Blob.S3.Bucket,
		"S3_PREFIX":            &c.Blob.S3.Prefix,
		"S3_ENDPOINT":          &c.Blob.S3.Endpoint,
		"S3_ACCESS_KEY_ID":     &c.Blob.S3.AccessKeyID,
		"S3_SECRET_ACCESS_KEY": &c.Blob.S3.SecretAccessKey,
		"S3_SESSION_TOKEN":     &c.Blob.S3.SessionToken,
		"EXPORT_RASTERIZER":    &c.Export.Rasterizer,
		"DASHBOARD_URL":        &c.Export.DashboardURL,
		"CHROME_BIN":           &c.Export.ChromeBin,
		"REPORT_TITLE":         &c.Export.Title,
		"REPORT_FONT":          &c.Export.FontPath,
		"INBOX_DIR":            &c.Import.InboxDir,
		"LOG_LEVEL":            &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup(EnvPrefix + "S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", EnvPrefix, err)
		}
		c.Blob.S3.PathStyle = b
	}
	if v, ok := lookup(EnvPrefix + "EXPORT_SCALE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sEXPORT_SCALE: %w", EnvPrefix, err)
		}
		c.Export.Scale = f
	}
	return nil
}

// Validate checks driver names and the settings they require.
func (c Config) Validate() error {
	switch core.StorageDriver(strings.ToLower(c.Storage.Driver)) {
	case "", core.StorageMemory, core.StorageFile, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch blob.Driver(strings.ToLower(c.Blob.Driver)) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Export.Rasterizer {
	case "", RasterizerSummary, RasterizerRod:
	default:
		return fmt.Errorf("unknown export rasterizer %q", c.Export.Rasterizer)
	}
	return nil
}

// StorageOptions maps the storage section onto the slot store options.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		FileRoot:    c.Storage.FileRoot,
	}
}

// BlobOptions maps the blob section onto the artifact store options.
func (c Config) BlobOptions() blob.Options {
	s := c.Blob.S3
	return blob.Options{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          s.Region,
			Bucket:          s.Bucket,
			Prefix:          s.Prefix,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			SessionToken:    s.SessionToken,
			PathStyle:       s.PathStyle,
		},
	}
}
