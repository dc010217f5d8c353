package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/metrics"
	"github.com/lucasnoah/fixloop/internal/review"
	"github.com/lucasnoah/fixloop/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the fix workflow as a JSON API",
	Long: `Start an HTTP server exposing /api/fix, /api/fix/stream, /api/validate,
/api/review, /api/rules, /api/runs and Prometheus metrics on /metrics.

Runs submitted over HTTP are recorded in the same history as CLI runs.
/api/review answers 503 when no language-model provider is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.Server.Addr
		}
		logger := newLogger(cmd)

		h, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer h.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec := metrics.New(reg)

		opts, err := workflowOptions(cmd, cfg)
		if err != nil {
			return err
		}
		opts.Progress = nil
		opts.Observer = rec

		var reviewer *review.Reviewer
		c, err := newCompleter(cfg, logger, false)
		if err != nil {
			return err
		}
		if c != nil {
			reviewer = review.New(c, review.WithTemplateDir(cfg.TemplatesDir), review.WithLogger(logger))
		}

		srv := web.NewServer(web.Options{
			Addr:     addr,
			Workflow: opts,
			Reviewer: reviewer,
			DB:       h.db,
			Runs:     h.runs,
			Metrics:  reg,
			Logger:   logger,
		})
		cmd.Printf("fixloop listening on %s\n", addr)
		return srv.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, :8080)")
}
