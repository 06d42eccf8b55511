package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// execFunc runs a command to completion.
type execFunc func(ctx context.Context, name string, args ...string) error

// Runner captures jobs one at a time, each in its own worker process in
// local mode.
type Runner struct {
	worker  string
	workDir string
	exec    execFunc
}

// NewRunner creates a Runner starting the worker binary.
func NewRunner(worker, workDir string) *Runner {
	return &Runner{worker: worker, workDir: workDir, exec: runCommand}
}

// Run captures every job and returns the upload items of the captured
// pages. A job whose worker fails stops the run.
func (r *Runner) Run(ctx context.Context, jobs []model.Job) ([]UploadItem, error) {
	input := filepath.Join(r.workDir, "screenshot-input.json")
	output := filepath.Join(r.workDir, "screenshot-results.json")

	items := make([]UploadItem, 0, len(jobs))
	for i, job := range jobs {
		body, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}
		if err := os.WriteFile(input, body, 0o644); err != nil {
			return nil, fmt.Errorf("write job file: %w", err)
		}
		_ = os.Remove(output)

		zlog.Logger.Info().Msgf("starting screenshot %d of %d", i+1, len(jobs))

		err = r.exec(ctx, r.worker, "--local", "--output-filepath="+output, "--file="+input)
		if err != nil {
			return nil, fmt.Errorf("screenshot %s at %d: %w", job.URL, job.Breakpoint, err)
		}

		zlog.Logger.Info().Msgf("completed screenshot %d of %d", i+1, len(jobs))

		data, err := os.ReadFile(output)
		if err != nil {
			return nil, fmt.Errorf("read results: %w", err)
		}

		var res model.LocalArtifacts
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		if res.Error != nil {
			zlog.Logger.Warn().Str("url", job.URL).Int("breakpoint", job.Breakpoint).
				Str("error", res.Error.Message).Msg("screenshot failed, uploading error image")
		}

		items = append(items, UploadItem{
			URI:        job.URI,
			Breakpoint: job.Breakpoint,
			Screenshot: res.Screenshot,
			HTML:       res.HTML,
			JSConsole:  res.JSConsole,
		})
	}

	return items, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
