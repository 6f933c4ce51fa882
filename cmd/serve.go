package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/metrics"
	"github.com/tokumeifriends/koinomae-api1/internal/pipeline"
	"github.com/tokumeifriends/koinomae-api1/internal/provider"
	"github.com/tokumeifriends/koinomae-api1/internal/provider/openai"
	"github.com/tokumeifriends/koinomae-api1/internal/router"
	"github.com/tokumeifriends/koinomae-api1/internal/server"
)

const serveUsage = `Usage:
  koinomae-api serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (defaults plus environment when omitted)
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

	logger, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	replier, scorer, err := buildPipelines(cfg, logger, metrics.New(reg))
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, replier, scorer, reg)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// buildPipelines wires the upstream client, router and both pipelines from cfg.
func buildPipelines(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*pipeline.ReplyPipeline, *pipeline.ScorePipeline, error) {
	// The per-attempt deadline is enforced by the router; the client timeout
	// only guards against a misconfigured router.
	httpClient := provider.NewHTTPClient(2 * cfg.Upstream.Timeout)

	upstream, err := openai.New(cfg.Upstream, httpClient, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise upstream client: %w", err)
	}

	rt, err := router.New(upstream, cfg.Upstream.Candidates(), cfg.Upstream.Timeout,
		router.WithLogger(logger),
		router.WithMetrics(m),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise router: %w", err)
	}

	scorer, err := pipeline.NewScorePipeline(rt, cfg.Score, m, logger)
	if err != nil {
		return nil, nil, err
	}

	return pipeline.NewReplyPipeline(rt, cfg.Reply, m, logger), scorer, nil
}
