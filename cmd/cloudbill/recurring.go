package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/internal/recurringreport"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/metrics"
)

func runRecurring(ctx context.Context, args []string) int {
	cfg, logg, err := bootstrap("cloudbill")
	if err != nil {
		logg.Error(ctx, "failed to load configuration", err)
		return pkgerrors.MetadataFor(pkgerrors.CodeConfig).ExitCode
	}

	fs := flag.NewFlagSet("recurring", flag.ContinueOnError)
	fs.StringVar(&cfg.Classic.APIKey, "k", cfg.Classic.APIKey, "classic infrastructure api key")
	start := fs.String("s", "", "first invoice date, mm/dd/yyyy")
	end := fs.String("e", "", "last invoice date, mm/dd/yyyy")
	fs.StringVar(&cfg.Classic.Endpoint, "sl-endpoint", cfg.Classic.Endpoint, "classic api endpoint override")
	fs.BoolVar(&cfg.Classic.PrivateNetwork, "sl-private", cfg.Classic.PrivateNetwork, "use the private network endpoint")
	fs.StringVar(&cfg.Metrics.PushgatewayURL, "pushgateway", cfg.Metrics.PushgatewayURL, "pushgateway url for run metrics")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := cfg.Validate(); err != nil {
		logg.Error(ctx, "invalid configuration", err)
		return pkgerrors.ExitCodeFor(err)
	}

	runID := uuid.NewString()
	ctx = logg.WithRunID(ctx, runID)

	registry := prometheus.NewRegistry()
	runMetrics := metrics.NewRunMetrics(registry)

	portal, err := classic.NewClient(ctx, cfg.Classic, logg)
	if err != nil {
		logg.Error(ctx, "failed to build portal client", err)
		return pkgerrors.ExitCodeFor(err)
	}

	svc, err := recurringreport.New(recurringreport.Params{
		Logger:  logg,
		Portal:  portal,
		Metrics: runMetrics,
		Start:   *start,
		End:     *end,
		Writer:  os.Stdout,
	})
	if err != nil {
		logg.Error(ctx, "failed to build recurring report service", err)
		return pkgerrors.ExitCodeFor(err)
	}

	started := time.Now()
	runErr := svc.Run(ctx)
	runMetrics.ObserveDuration("recurring", time.Since(started))
	if runErr != nil {
		runMetrics.IncFailure("recurring")
	} else {
		runMetrics.IncSuccess("recurring")
	}
	pushMetrics(ctx, logg, registry, cfg.Metrics, runID)

	if runErr != nil {
		ctx = logg.WithField(ctx, "error_dump", pkgerrors.Dump(runErr))
		logg.Error(ctx, "recurring report run failed", runErr)
		return pkgerrors.ExitCodeFor(runErr)
	}
	return 0
}
