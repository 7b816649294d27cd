// Command progressd runs a progress engine behind an HTTP API and replays
// recorded snapshot files.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-progress-engine/config"
	"github.com/Swind/go-progress-engine/core"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "progressd",
		Usage:   "progress engine daemon",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"PROGRESSD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logging.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			replayCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the --config file and applies global flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *core.DefaultLogger {
	return core.NewLogger(cfg.Logging.LoggerConfig())
}
