package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/screenshot-worker/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Worker.Timeout)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 50000, cfg.Pipeline.MaxPageHeight)
	assert.Equal(t, 220, cfg.Pipeline.ThumbnailWidth)
	assert.Equal(t, config.DriverKafka, cfg.Queue.Driver)
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "7")

	cfg, err := config.Load("testdata/sqs.yml", nil)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Worker.Timeout)
	assert.Equal(t, 7, cfg.Worker.MaxAttempts)
	assert.Equal(t, config.DriverSQS, cfg.Queue.Driver)
	assert.Equal(t, "eu-west-1", cfg.Queue.SQS.Region)
}

func TestLoad_Flags(t *testing.T) {
	fs := config.Flags()
	require.NoError(t, fs.Parse([]string{"--file", "job.json", "--output-filepath", "out.json"}))

	cfg, err := config.Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, "job.json", cfg.Worker.File)
	assert.Equal(t, "out.json", cfg.Worker.OutputFilepath)
	assert.True(t, cfg.Worker.Local)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("testdata/missing.yml", nil)
	assert.Error(t, err)
}

func TestValidate_LeaseMustExceedTimeout(t *testing.T) {
	cfg, err := config.Load("testdata/sqs.yml", nil)
	require.NoError(t, err)

	// 4m visibility against a 5m deadline.
	err = cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg.Queue.SQS.VisibilityTimeout = 6 * time.Minute
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg, err := config.Load("", nil)
		require.NoError(t, err)
		cfg.Queue.Kafka.Brokers = []string{"localhost:9092"}
		cfg.Queue.Kafka.JobsTopic = "jobs"
		cfg.Storage.BucketName = "shots"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{"valid kafka", func(c *config.Config) {}, true},
		{"zero timeout", func(c *config.Config) { c.Worker.Timeout = 0 }, false},
		{"no attempts", func(c *config.Config) { c.Worker.MaxAttempts = 0 }, false},
		{"unbounded scroll", func(c *config.Config) { c.Pipeline.MaxScrollCycles = 0 }, false},
		{"unknown driver", func(c *config.Config) { c.Queue.Driver = "nsq" }, false},
		{"no brokers", func(c *config.Config) { c.Queue.Kafka.Brokers = nil }, false},
		{"no bucket", func(c *config.Config) { c.Storage.BucketName = "" }, false},
		{"amqp without url", func(c *config.Config) { c.Queue.Driver = config.DriverAMQP }, false},
		{"local file skips queue", func(c *config.Config) {
			c.Queue.Driver = "nsq"
			c.Worker.File = "job.json"
			c.Worker.Local = true
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}
