package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hypershard/internal/adapter"
	"hypershard/internal/core"
)

func newWatchCmd() *cobra.Command {
	var flagDir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and submit YAML plan documents dropped into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.WatchDir
			if flagDir != "" {
				dir = flagDir
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}

			c, logger, cleanup, err := openCore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watchPlans(ctx, c, logger, dir)
		},
	}
	cmd.Flags().StringVar(&flagDir, "dir", "", "directory to watch (overrides config watch_dir)")
	return cmd
}

// watchPlans submits every YAML document written into dir until the
// context is cancelled.
func watchPlans(ctx context.Context, c *core.Core, logger *zap.Logger, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Info("watching for plan documents", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isPlanDocument(event.Name) {
				continue
			}
			submitDocument(ctx, c, logger, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}

func isPlanDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func submitDocument(ctx context.Context, c *core.Core, logger *zap.Logger, path string) {
	p, err := adapter.ParseFile(path)
	if err != nil {
		logger.Warn("skipping malformed plan document", zap.String("path", path), zap.Error(err))
		return
	}
	planID, err := c.SubmitPlan(ctx, p)
	if err != nil {
		logger.Warn("plan submission rejected", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("plan submitted from document",
		zap.String("path", path), zap.String("plan_id", planID))
}
