package controlplane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_KEY", "key")
	t.Setenv("PROJECT_ID", "12")
	t.Setenv("UPLOAD_SCREENSHOT_TIMEOUT", "5m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, "https://app.diffy.website/api", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.UploadTimeout)
	assert.Equal(t, "https://app.diffy.website/#/snapshots/9", cfg.SnapshotURL("9"))
}

func TestLoadConfig_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_KEY", "")
	t.Setenv("PROJECT_ID", "12")

	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrMissingRequired)
}
