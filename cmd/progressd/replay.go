package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	progressengine "github.com/Swind/go-progress-engine"
	"github.com/Swind/go-progress-engine/config"
	"github.com/Swind/go-progress-engine/core"
	"github.com/Swind/go-progress-engine/snapshot"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "play a recorded snapshot file back",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Required: true,
				Usage:    "snapshot export (JSON or YAML)",
			},
			&cli.Float64Flag{
				Name:  "speed",
				Value: 1,
				Usage: "playback speed multiplier",
			},
			&cli.BoolFlag{
				Name:  "loop",
				Usage: "restart from the first snapshot until interrupted",
			},
		},
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	speed := c.Float64("speed")
	if speed <= 0 {
		return cli.Exit("speed must be positive", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	path := c.String("file")
	cfg.Recorder.Format = formatFor(path, cfg.Recorder.Format)
	// replay never touches the saved state
	cfg.Persistence.Enabled = false
	cfg.Metrics.Enabled = false

	data, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to read %s: %v", path, err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := progressengine.New(ctx, cfg, progressengine.Options{Logger: newLogger(cfg)})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to create engine: %v", err), 1)
	}
	defer engine.Close(context.Background())

	if err := engine.Recorder().Import(data); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to import %s: %v", path, err), 1)
	}
	stats := engine.Recorder().Statistics()
	fmt.Printf("Replaying %d snapshots over %dms at %.2gx\n", stats.Count, stats.Duration, speed)

	done := make(chan struct{})
	state := engine.State()
	err = engine.Replay(snapshot.PlaybackOptions{
		Speed: speed,
		Loop:  c.Bool("loop"),
		OnFrame: func(i int, s snapshot.Snapshot) {
			fmt.Printf("[%3d] %s value=%-8.4g %6.2f%%\n",
				i, s.Time().Format("15:04:05.000"), s.Value, state.PercentageOf(s.Value))
		},
		OnComplete: func() { close(done) },
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to replay: %v", err), 1)
	}

	select {
	case <-done:
		fmt.Println("✓ Replay complete")
	case <-ctx.Done():
		engine.Recorder().StopPlayback()
		engine.Logger().Info("replay interrupted", core.F("value", engine.Value().Value()))
	}
	return nil
}

// formatFor picks the snapshot codec from the file extension.
func formatFor(path, fallback string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		if fallback == "" {
			return config.Default().Recorder.Format
		}
		return fallback
	}
}
