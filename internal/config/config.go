package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Queue drivers supported by the worker.
const (
	DriverKafka = "kafka"
	DriverSQS   = "sqs"
	DriverAMQP  = "amqp"
)

// ErrInvalidConfig is returned by Validate for an unusable configuration.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the main configuration for the application.
type Config struct {
	Worker   Worker   `mapstructure:"worker"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Browser  Browser  `mapstructure:"browser"`
	Queue    Queue    `mapstructure:"queue"`
	Storage  Storage  `mapstructure:"storage"`
	Database Database `mapstructure:"database"`
	Retry    Retry    `mapstructure:"retry"`
}

// Worker holds the job lifecycle settings of a worker process.
type Worker struct {
	Timeout     time.Duration `mapstructure:"timeout"`      // execution deadline of one job
	MaxAttempts int           `mapstructure:"max_attempts"` // attempts before a terminal error artifact

	// Local mode: the job comes from a file or inline content and artifacts
	// are written to disk instead of object storage.
	Local          bool   `mapstructure:"local"`
	File           string `mapstructure:"file"`
	FileContent    string `mapstructure:"file_content"`
	OutputFilepath string `mapstructure:"output_filepath"`
}

// Pipeline holds the tunables of page preparation and capture.
type Pipeline struct {
	ViewportHeight     int           `mapstructure:"viewport_height"`
	MaxPageHeight      int           `mapstructure:"max_page_height"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	NavigationFallback time.Duration `mapstructure:"navigation_fallback"`
	AuthTimeout        time.Duration `mapstructure:"auth_timeout"`
	ScrollDelay        time.Duration `mapstructure:"scroll_delay"` // pause between scroll steps
	SettleDelay        time.Duration `mapstructure:"settle_delay"` // pause after a resize
	MaxScrollCycles    int           `mapstructure:"max_scroll_cycles"`
	MaxScrollDuration  time.Duration `mapstructure:"max_scroll_duration"`
	StabilizeMinRatio  float64       `mapstructure:"stabilize_min_ratio"` // share of the viewport height
	StabilizeMaxDepth  int           `mapstructure:"stabilize_max_depth"`
	ConsoleLogLimit    int           `mapstructure:"console_log_limit"`
	ThumbnailWidth     int           `mapstructure:"thumbnail_width"`
	CompressLimit      int           `mapstructure:"compress_limit"` // both sides below it are encoded as JPEG
	ErrorImageHeight   int           `mapstructure:"error_image_height"`
}

// Browser holds headless browser settings.
type Browser struct {
	ExecPath  string `mapstructure:"exec_path"`
	Proxy     string `mapstructure:"proxy"`
	Headless  bool   `mapstructure:"headless"`
	NoSandbox bool   `mapstructure:"no_sandbox"`
}

// Queue selects the job source and holds the settings of every transport.
type Queue struct {
	Driver string `mapstructure:"driver"`
	Kafka  Kafka  `mapstructure:"kafka"`
	SQS    SQS    `mapstructure:"sqs"`
	AMQP   AMQP   `mapstructure:"amqp"`
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID      string   `mapstructure:"group_id"`      // Consumer group ID
	JobsTopic    string   `mapstructure:"jobs_topic"`    // topic jobs are leased from and requeued to
	ResultsTopic string   `mapstructure:"results_topic"` // topic terminal results are published to
	Brokers      []string `mapstructure:"brokers"`       // List of Kafka broker addresses
}

// SQS holds configuration for Amazon SQS queues.
type SQS struct {
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"` // custom endpoint, e.g. localstack
	JobsQueueURL      string        `mapstructure:"jobs_queue_url"`
	ResultsQueueURL   string        `mapstructure:"results_queue_url"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"` // lease length
	WaitTime          time.Duration `mapstructure:"wait_time"`          // long polling
}

// AMQP holds configuration for a RabbitMQ broker.
type AMQP struct {
	URL          string `mapstructure:"url"`
	JobsQueue    string `mapstructure:"jobs_queue"`
	ResultsQueue string `mapstructure:"results_queue"`
}

// Storage holds configuration for the artifact storage backend.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	PublicURL  string `mapstructure:"public_url"` // prefix of the URIs reported in results
	LocalDir   string `mapstructure:"local_dir"`  // output directory of local jobs
}

// Database holds database master and slave configuration.
// The delivery ledger is used only when Enabled is set.
type Database struct {
	Enabled bool           `mapstructure:"enabled"`
	Master  DatabaseNode   `mapstructure:"master"`
	Slaves  []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// IsLocal reports whether the worker runs a single job from a file or
// inline content rather than leasing one from a queue.
func (w Worker) IsLocal() bool {
	return w.File != "" || w.FileContent != ""
}

// Flags returns the command line flags of the worker binary.
// Parsed values override the config file and the environment.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("screenshot-worker", pflag.ContinueOnError)

	fs.String("config", "./config/config.yml", "path to the config file")
	fs.String("file", "", "read the job from a JSON file instead of the queue")
	fs.String("file-content", "", "read the job from inline JSON instead of the queue")
	fs.Bool("local", false, "write artifacts to the local directory")
	fs.String("output-filepath", "", "write the job result JSON to this file")

	return fs
}

var flagKeys = map[string]string{
	"file":            "worker.file",
	"file-content":    "worker.file_content",
	"local":           "worker.local",
	"output-filepath": "worker.output_filepath",
}

var envBindings = map[string]string{
	"worker.timeout":                  "WORKER_TIMEOUT",
	"worker.max_attempts":             "MAX_ATTEMPTS",
	"browser.exec_path":               "CHROME_PATH",
	"browser.proxy":                   "PROXY",
	"queue.driver":                    "QUEUE_DRIVER",
	"queue.sqs.region":                "AWS_REGION",
	"queue.sqs.endpoint":              "SQS_ENDPOINT",
	"queue.sqs.jobs_queue_url":        "JOBS_QUEUE_URL",
	"queue.sqs.results_queue_url":     "RESULTS_QUEUE_URL",
	"queue.amqp.url":                  "AMQP_URL",
	"storage.endpoint":                "STORAGE_ENDPOINT",
	"storage.access_key":              "STORAGE_ACCESS_KEY",
	"storage.secret_key":              "STORAGE_SECRET_KEY",
	"storage.bucket_name":             "STORAGE_BUCKET",
	"storage.public_url":              "STORAGE_PUBLIC_URL",
	"database.enabled":                "DB_ENABLED",
	"database.master.host":            "DB_HOST",
	"database.master.port":            "DB_PORT",
	"database.master.user":            "DB_USER",
	"database.master.pass":            "DB_PASSWORD",
	"database.master.name":            "DB_NAME",
}

// setDefaults registers the values used when neither the file nor the
// environment set a key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.timeout", 10*time.Minute)
	v.SetDefault("worker.max_attempts", 3)

	v.SetDefault("pipeline.viewport_height", 1000)
	v.SetDefault("pipeline.max_page_height", 50000)
	v.SetDefault("pipeline.navigation_timeout", 120*time.Second)
	v.SetDefault("pipeline.navigation_fallback", 60*time.Second)
	v.SetDefault("pipeline.auth_timeout", 30*time.Second)
	v.SetDefault("pipeline.scroll_delay", 100*time.Millisecond)
	v.SetDefault("pipeline.settle_delay", time.Second)
	v.SetDefault("pipeline.max_scroll_cycles", 1000)
	v.SetDefault("pipeline.max_scroll_duration", 2*time.Minute)
	v.SetDefault("pipeline.stabilize_min_ratio", 0.4)
	v.SetDefault("pipeline.stabilize_max_depth", 64)
	v.SetDefault("pipeline.console_log_limit", 1000)
	v.SetDefault("pipeline.thumbnail_width", 220)
	v.SetDefault("pipeline.compress_limit", 16000)
	v.SetDefault("pipeline.error_image_height", 600)

	v.SetDefault("browser.headless", true)

	v.SetDefault("queue.driver", DriverKafka)
	v.SetDefault("queue.sqs.visibility_timeout", 15*time.Minute)
	v.SetDefault("queue.sqs.wait_time", 20*time.Second)

	v.SetDefault("storage.local_dir", "./screenshots")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds critical environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from path, the environment and the given
// flag set, in increasing order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A job read from a file always writes its artifacts locally.
	if cfg.Worker.IsLocal() {
		cfg.Worker.Local = true
	}

	return &cfg, nil
}

// Validate checks the settings the worker cannot run without.
func (c *Config) Validate() error {
	if c.Worker.Timeout <= 0 {
		return fmt.Errorf("%w: worker.timeout must be positive", ErrInvalidConfig)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("%w: worker.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Pipeline.MaxPageHeight <= 0 || c.Pipeline.ViewportHeight <= 0 {
		return fmt.Errorf("%w: pipeline heights must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.MaxScrollCycles <= 0 || c.Pipeline.MaxScrollDuration <= 0 {
		return fmt.Errorf("%w: auto-scroll must be bounded", ErrInvalidConfig)
	}

	if c.Worker.Local && c.Storage.LocalDir == "" {
		return fmt.Errorf("%w: storage.local_dir is required in local mode", ErrInvalidConfig)
	}

	if c.Worker.IsLocal() {
		return nil
	}

	switch c.Queue.Driver {
	case DriverKafka:
		if len(c.Queue.Kafka.Brokers) == 0 || c.Queue.Kafka.JobsTopic == "" {
			return fmt.Errorf("%w: queue.kafka.brokers and jobs_topic are required", ErrInvalidConfig)
		}
	case DriverSQS:
		if c.Queue.SQS.JobsQueueURL == "" {
			return fmt.Errorf("%w: queue.sqs.jobs_queue_url is required", ErrInvalidConfig)
		}
		// The message must stay invisible for as long as the job may run,
		// otherwise a second worker leases it while the first still renders.
		if c.Queue.SQS.VisibilityTimeout <= c.Worker.Timeout {
			return fmt.Errorf("%w: queue.sqs.visibility_timeout (%s) must exceed worker.timeout (%s)",
				ErrInvalidConfig, c.Queue.SQS.VisibilityTimeout, c.Worker.Timeout)
		}
	case DriverAMQP:
		if c.Queue.AMQP.URL == "" || c.Queue.AMQP.JobsQueue == "" {
			return fmt.Errorf("%w: queue.amqp.url and jobs_queue are required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown queue driver %q", ErrInvalidConfig, c.Queue.Driver)
	}

	if !c.Worker.Local && c.Storage.BucketName == "" {
		return fmt.Errorf("%w: storage.bucket_name is required", ErrInvalidConfig)
	}

	return nil
}
