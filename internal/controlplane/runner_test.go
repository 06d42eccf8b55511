package controlplane

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

func flagValue(args []string, name string) string {
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "--"+name+"="); ok {
			return v
		}
	}
	return ""
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner("screenshot-worker", t.TempDir())

	var calls [][]string
	r.exec = func(_ context.Context, name string, args ...string) error {
		assert.Equal(t, "screenshot-worker", name)
		assert.Contains(t, args, "--local")
		calls = append(calls, args)

		body, err := os.ReadFile(flagValue(args, "file"))
		require.NoError(t, err)
		job, err := model.DecodeJob(body)
		require.NoError(t, err)

		out := `{"screenshot":"/shots/` + job.URI + `.jpg","html":"/shots/p.html","mhtml":"","jsConsole":"/shots/c.json"}`
		return os.WriteFile(flagValue(args, "output-filepath"), []byte(out), 0o644)
	}

	jobs := []model.Job{
		{URL: "https://stage.example.com/a", URI: "/a", Breakpoint: 640},
		{URL: "https://stage.example.com/b", URI: "/b", Breakpoint: 1200},
	}

	items, err := r.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
	require.Len(t, items, 2)
	assert.Equal(t, UploadItem{
		URI:        "/b",
		Breakpoint: 1200,
		Screenshot: "/shots//b.jpg",
		HTML:       "/shots/p.html",
		JSConsole:  "/shots/c.json",
	}, items[1])
}

func TestRunner_WorkerFails(t *testing.T) {
	r := NewRunner("screenshot-worker", t.TempDir())
	r.exec = func(context.Context, string, ...string) error {
		return errors.New("exit status 2")
	}

	_, err := r.Run(context.Background(), []model.Job{{URL: "https://stage.example.com", URI: "/", Breakpoint: 640}})
	assert.ErrorContains(t, err, "exit status 2")
}

func TestRunner_MissingResults(t *testing.T) {
	r := NewRunner("screenshot-worker", t.TempDir())
	r.exec = func(context.Context, string, ...string) error { return nil }

	_, err := r.Run(context.Background(), []model.Job{{URL: "https://stage.example.com", URI: "/", Breakpoint: 640}})
	assert.ErrorContains(t, err, "read results")
}
