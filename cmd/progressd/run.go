package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	progressengine "github.com/Swind/go-progress-engine"
	"github.com/Swind/go-progress-engine/config"
	"github.com/Swind/go-progress-engine/coord"
	"github.com/Swind/go-progress-engine/core"
)

const shutdownTimeout = 5 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the engine with its HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address; enables the HTTP API",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Value: true,
				Usage: "reload the config file when it changes",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	if addr := c.String("addr"); addr != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = addr
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := progressengine.New(ctx, cfg, progressengine.Options{Logger: logger})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to create engine: %v", err), 1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.Error("engine close failed", core.F("error", err))
		}
	}()
	if err := engine.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to start engine: %v", err), 1)
	}

	if path := c.String("config"); path != "" && c.Bool("watch") {
		err := config.Watch(ctx, path, config.DefaultReloadDelay, logger, func(next config.Config) {
			if err := engine.Reload(next); err != nil {
				logger.Warn("config reload rejected", core.F("error", err))
			}
		})
		if err != nil {
			logger.Warn("config watch disabled", core.F("error", err))
		}
	}

	if cfg.MQTT.Enabled {
		disconnect, err := startMQTT(cfg.MQTT, engine, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to start MQTT bridge: %v", err), 1)
		}
		defer disconnect()
	}

	errCh := make(chan error, 1)
	var srv *http.Server
	if cfg.HTTP.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           engine.APIServer(version).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server listening", core.F("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("http server failed", core.F("error", err))
		return cli.Exit(fmt.Sprintf("HTTP server failed: %v", err), 1)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", core.F("error", err))
		}
	}
	return nil
}

// startMQTT connects to the broker and bridges the engine coordinator. The
// bridge resubscribes on every (re)connect.
func startMQTT(cfg config.MQTTConfig, engine *progressengine.Engine, logger core.Logger) (func(), error) {
	var bridge *coord.MQTTBridge

	options := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			_ = bridge.Stop()
			if err := bridge.Start(); err != nil {
				logger.Error("mqtt bridge start failed", core.F("error", err))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", core.F("error", err))
		})
	client := mqtt.NewClient(options)
	bridge = coord.NewMQTTBridge(client, engine.Coordinator(), coord.BridgeConfig{
		NodeID: cfg.ClientID,
		Topic:  cfg.Topic,
		QoS:    cfg.QoS,
		Clock:  engine.Clock(),
		Logger: logger,
	})

	token := client.Connect()
	if !token.WaitTimeout(coord.DefaultBridgeTimeout) {
		return nil, fmt.Errorf("connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	logger.Info("mqtt connected", core.F("broker", cfg.Broker))

	return func() {
		if err := bridge.Stop(); err != nil {
			logger.Warn("mqtt bridge stop failed", core.F("error", err))
		}
		client.Disconnect(250)
	}, nil
}
