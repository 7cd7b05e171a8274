package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/torfstack/shore/internal/logging"
	"github.com/torfstack/shore/internal/util"
)

const (
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

var (
	configFilePath        = filepath.Join(util.ShoreConfigDir, "config.toml")
	defaultLocalDir       = filepath.Join(util.HomeDir(), "shore")
	defaultWorkers        = 4
	defaultMaxAttempts    = 5
	defaultRetryBase      = 500 * time.Millisecond
	defaultDebounceWindow = 300 * time.Millisecond
	defaultGraceDeadline  = 10 * time.Second
	defaultIgnorePatterns = []string{"*.tmp", "*.swp", "*.swx", "~$*", ".#*", "*.part"}
)

type Config struct {
	LocalDir string `toml:"local_dir"`
	Backend  string `toml:"backend"`
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`

	// S3 only. An empty endpoint uses the regular AWS one; empty
	// credentials fall back to the default AWS credential chain.
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`

	// GCS only: path to a service account JSON file.
	CredentialsFile string `toml:"credentials_file,omitempty"`

	Workers        int           `toml:"workers"`
	MaxAttempts    int           `toml:"max_attempts"`
	RetryBase      time.Duration `toml:"retry_base"`
	DebounceWindow time.Duration `toml:"debounce_window"`
	GraceDeadline  time.Duration `toml:"grace_deadline"`
	IgnorePatterns []string      `toml:"ignore_patterns"`

	// Zero disables the daemon's periodic audit pass.
	AuditInterval time.Duration `toml:"audit_interval,omitempty"`
}

func Get() (Config, error) {
	return get(false)
}

func GetInteractive() (Config, error) {
	return get(true)
}

func get(interactive bool) (Config, error) {
	c := Config{}
	f, err := os.Open(configFilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c, err = initConfig(interactive)
		if err != nil {
			return c, err
		}
		return c, c.Validate()
	case err != nil:
		return c, fmt.Errorf("could not open config file for reading '%s': %s", configFilePath, err)
	}

	_, err = toml.NewDecoder(f).Decode(&c)
	if err != nil {
		return c, fmt.Errorf("could not decode config file '%s': %s", configFilePath, err)
	}
	c.applyDefaults()
	return c, c.Validate()
}

func initConfig(interactive bool) (Config, error) {
	c := initialConfig()
	if interactive {
		err := guidedInitialization(&c)
		if err != nil {
			return c, fmt.Errorf("could not initialize config interactively: %w", err)
		}
	}
	return c, c.persist()
}

func (c *Config) persist() error {
	f, err := util.OpenWithParents(configFilePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open config file for writing '%s': %w", configFilePath, err)
	}

	logging.Debugf("Persisting config file to '%s'", configFilePath)
	err = toml.NewEncoder(f).Encode(c)
	if err != nil {
		return fmt.Errorf("could not persist config to file '%s': %w", configFilePath, err)
	}

	return nil
}

// Validate checks the parts of the config that would otherwise only fail
// deep inside the engine. Path problems are fatal here, never at runtime.
func (c *Config) Validate() error {
	if c.Backend != BackendS3 && c.Backend != BackendGCS {
		return fmt.Errorf("unknown backend '%s' (expected '%s' or '%s')", c.Backend, BackendS3, BackendGCS)
	}
	if c.Bucket == "" {
		return errors.New("bucket must not be empty")
	}
	if !filepath.IsAbs(c.LocalDir) {
		return fmt.Errorf("local_dir '%s' must be an absolute path", c.LocalDir)
	}
	for _, pattern := range c.IgnorePatterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid ignore pattern '%s': %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaultDebounceWindow
	}
	if c.GraceDeadline <= 0 {
		c.GraceDeadline = defaultGraceDeadline
	}
	if c.IgnorePatterns == nil {
		c.IgnorePatterns = defaultIgnorePatterns
	}
}

func initialConfig() Config {
	return Config{
		LocalDir:       defaultLocalDir,
		Backend:        BackendS3,
		Workers:        defaultWorkers,
		MaxAttempts:    defaultMaxAttempts,
		RetryBase:      defaultRetryBase,
		DebounceWindow: defaultDebounceWindow,
		GraceDeadline:  defaultGraceDeadline,
		IgnorePatterns: defaultIgnorePatterns,
	}
}
