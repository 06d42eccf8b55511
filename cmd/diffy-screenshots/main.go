package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/controlplane"
)

// Example:
//
//	diffy-screenshots --url=https://diffy.website
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()

	fs := pflag.NewFlagSet("diffy-screenshots", pflag.ContinueOnError)
	baseURL := fs.String("url", "", "base URL the project pages are captured from")
	name := fs.String("screenshot-name", "", "snapshot name, the URL by default")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if *baseURL == "" {
		fmt.Fprintln(os.Stderr, `Provide --url parameter. Example --url="https://diffy.website"`)
		os.Exit(2)
	}
	if *name == "" {
		*name = *baseURL
	}

	cfg, err := controlplane.LoadConfig()
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to load config")
		os.Exit(2)
	}

	if err := run(ctx, cfg, *baseURL, *name); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to create snapshot")
		os.Exit(1)
	}
}

// run captures the project pages on baseURL and uploads them as a snapshot.
func run(ctx context.Context, cfg *controlplane.Config, baseURL, name string) error {
	client := controlplane.NewClient(cfg)

	if _, err := client.Login(ctx); err != nil {
		return err
	}

	project, err := client.GetProject(ctx)
	if err != nil {
		return err
	}

	jobs := controlplane.PrepareJobs(baseURL, project)

	items, err := controlplane.NewRunner(cfg.Worker, cfg.WorkDir).Run(ctx, jobs)
	if err != nil {
		return err
	}

	// Send screenshots to Diffy.
	id, err := client.UploadSnapshot(ctx, name, items)
	if err != nil {
		return err
	}

	fmt.Println("Diffy screenshot url:", cfg.SnapshotURL(id))

	return nil
}
