package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

func TestQueue_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	body := `{"id":"1","params":{"url":"https://example.com","breakpoint":"1200"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	q, err := FromFile(path)
	require.NoError(t, err)

	l, err := q.Lease(context.Background())
	require.NoError(t, err)

	job, err := model.DecodeJob(l.Body)
	require.NoError(t, err)
	assert.Equal(t, 1200, job.Breakpoint)

	require.NoError(t, q.Ack(context.Background(), l))

	// A single job is served once.
	_, err = q.Lease(context.Background())
	assert.ErrorIs(t, err, model.ErrNoMessage)
}

func TestQueue_FromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestQueue_Records(t *testing.T) {
	q := FromContent([]byte(`{}`))
	job := model.Job{ID: "1", URL: "https://example.com", Breakpoint: 320}

	require.NoError(t, q.Requeue(context.Background(), job.NextAttempt()))
	require.NoError(t, q.Publish(context.Background(), model.JobResult{Job: job, Status: true}))

	require.Len(t, q.Requeued(), 1)
	assert.Equal(t, 1, q.Requeued()[0].Attempts)
	require.Len(t, q.Published(), 1)
	assert.True(t, q.Published()[0].Status)
}
