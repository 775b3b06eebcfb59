// Package config loads the morphic-util settings: defaults, then an optional
// TOML file, then MORPHIC_* environment variables. Command-line flags are
// applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DirName is the per-user state directory below the home directory.
const DirName = ".morphic-util"

// Config is the full settings tree.
type Config struct {
	Catalogue  CatalogueConfig  `toml:"catalogue"`
	Journal    JournalConfig    `toml:"journal"`
	Blob       BlobConfig       `toml:"blob"`
	Log        LogConfig        `toml:"log"`
	Audit      AuditConfig      `toml:"audit"`
	Submission SubmissionConfig `toml:"submission"`
	Profiles   ProfilesConfig   `toml:"profiles"`
}

// CatalogueConfig locates the remote catalogue API.
type CatalogueConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
	Profile string   `toml:"profile"`
}

// JournalConfig selects the run journal backend.
type JournalConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// BlobConfig selects the upload-area store.
type BlobConfig struct {
	Driver string       `toml:"driver"`
	FSRoot string       `toml:"fs_root"`
	S3     BlobS3Config `toml:"s3"`
}

// BlobS3Config configures the S3 upload area.
type BlobS3Config struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

// LogConfig controls structured logging. An empty File logs to stderr.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days"`
	MaxBackups int    `toml:"max_backups"`
}

// AuditConfig controls the post-submission workbook.
type AuditConfig struct {
	Dir     string `toml:"dir"`
	Archive bool   `toml:"archive"`
}

// SubmissionConfig tunes submission runs.
type SubmissionConfig struct {
	Orphans         string   `toml:"orphans"`
	RollbackTimeout Duration `toml:"rollback_timeout"`
	Workers         int      `toml:"workers"`
	CheckUploadArea bool     `toml:"check_upload_area"`
}

// ProfilesConfig locates the credential profile database.
type ProfilesConfig struct {
	Path string `toml:"path"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Dir returns the per-user state directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// DefaultPath is the config file read when none is named.
func DefaultPath() string { return filepath.Join(Dir(), "config.toml") }

// Default returns the built-in settings.
func Default() Config {
	dir := Dir()
	return Config{
		Catalogue: CatalogueConfig{
			URL:     "https://api.ingest.archive.morphic.bio",
			Timeout: Duration{60 * time.Second},
			Profile: "morphic-util",
		},
		Journal: JournalConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "journal.db")},
		Blob:    BlobConfig{Driver: "fs", FSRoot: filepath.Join(dir, "upload-area"), S3: BlobS3Config{Region: "us-east-1"}},
		Log:     LogConfig{Level: "info", Format: "text", MaxSizeMB: 10, MaxAgeDays: 28, MaxBackups: 3},
		Audit:   AuditConfig{Dir: "."},
		Submission: SubmissionConfig{
			Orphans:         "advisory",
			RollbackTimeout: Duration{2 * time.Minute},
			CheckUploadArea: true,
		},
		Profiles: ProfilesConfig{Path: filepath.Join(dir, "profiles.db")},
	}
}

// Load reads path over the defaults and applies the environment. A missing
// file is only an error when explicit is true.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MORPHIC_CATALOGUE_URL", &c.Catalogue.URL)
	str("MORPHIC_PROFILE", &c.Catalogue.Profile)
	str("MORPHIC_JOURNAL_DRIVER", &c.Journal.Driver)
	str("MORPHIC_SQLITE_PATH", &c.Journal.SQLitePath)
	str("MORPHIC_POSTGRES_DSN", &c.Journal.PostgresDSN)
	str("MORPHIC_BLOB_DRIVER", &c.Blob.Driver)
	str("MORPHIC_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("MORPHIC_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("MORPHIC_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("MORPHIC_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("MORPHIC_LOG_LEVEL", &c.Log.Level)
	str("MORPHIC_LOG_FORMAT", &c.Log.Format)
	str("MORPHIC_LOG_FILE", &c.Log.File)
	str("MORPHIC_AUDIT_DIR", &c.Audit.Dir)
	str("MORPHIC_ORPHANS", &c.Submission.Orphans)
	str("MORPHIC_PROFILES_PATH", &c.Profiles.Path)
	if v, ok := lookup("MORPHIC_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MORPHIC_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	if v, ok := lookup("MORPHIC_CATALOGUE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MORPHIC_CATALOGUE_TIMEOUT: %w", err)
		}
		c.Catalogue.Timeout = Duration{d}
	}
	if v, ok := lookup("MORPHIC_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MORPHIC_WORKERS: %w", err)
		}
		c.Submission.Workers = n
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Catalogue.URL) == "" {
		problems = append(problems, "catalogue.url is empty")
	}
	switch c.Journal.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Journal.PostgresDSN == "" {
			problems = append(problems, "journal.postgres_dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("journal.driver %q is not one of memory, sqlite, postgres", c.Journal.Driver))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			problems = append(problems, "blob.s3.bucket is required for the s3 driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("blob.driver %q is not one of fs, s3, memory", c.Blob.Driver))
	}
	if c.Submission.Workers < 0 {
		problems = append(problems, "submission.workers must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Write stores cfg as TOML at path, creating parent directories.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
