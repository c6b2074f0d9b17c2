package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"turbo-gateway/internal/backend"
	"turbo-gateway/internal/config"
	"turbo-gateway/internal/directory"
	"turbo-gateway/internal/metrics"
	"turbo-gateway/internal/models"
	"turbo-gateway/internal/route"
	"turbo-gateway/internal/server"
)

const serveUsage = `Usage:
  turbo-gateway serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (optional; environment applies either way)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	registry := prometheus.NewRegistry()
	gatewayMetrics := metrics.New(registry)

	client := backend.New(cfg, gatewayMetrics)
	dir := directory.New(client, cfg.Remote.Models)

	fallback := models.SourceLocal
	if cfg.Routing.DefaultBackend == "remote" {
		fallback = models.SourceRemote
	}
	table := route.NewTable(dir.IsRemoteRouted, fallback)

	srv, err := server.New(cfg, client, dir, table, gatewayMetrics, registry)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
