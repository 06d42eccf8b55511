package controlplane

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingRequired is returned when a required variable is not set.
var ErrMissingRequired = errors.New("missing required configuration")

// Config holds the settings of the control-plane CLI, read from the
// environment and an optional .env file.
type Config struct {
	APIKey    string `envconfig:"API_KEY"`
	ProjectID string `envconfig:"PROJECT_ID"`

	APIURL     string `envconfig:"DIFFY_API_URL" default:"https://app.diffy.website/api"`
	WebsiteURL string `envconfig:"DIFFY_WEBSITE_URL" default:"https://app.diffy.website/#"`

	RequestTimeout time.Duration `envconfig:"DEFAULT_REQUEST_TIMEOUT" default:"30s"`
	UploadTimeout  time.Duration `envconfig:"UPLOAD_SCREENSHOT_TIMEOUT" default:"10m"`

	// Worker is the command run for every job, in local mode.
	Worker  string `envconfig:"WORKER_BIN" default:"screenshot-worker"`
	WorkDir string `envconfig:"WORK_DIR" default:"/tmp"`
}

// LoadConfig reads .env, when present, and the environment.
func LoadConfig() (*Config, error) {
	// Env vars might be set in the shell.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the variables the CLI cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: add Diffy API key to .env file, API_KEY=XXX", ErrMissingRequired)
	}
	if c.ProjectID == "" {
		return fmt.Errorf("%w: add Diffy API project ID to .env file, PROJECT_ID=XXX", ErrMissingRequired)
	}

	return nil
}

// SnapshotURL is the web UI link of a snapshot.
func (c *Config) SnapshotURL(id string) string {
	return c.WebsiteURL + "/snapshots/" + id
}
