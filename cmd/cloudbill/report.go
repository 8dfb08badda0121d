package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/internal/delivery"
	"github.com/kestrelops/cloudbill/internal/iam"
	"github.com/kestrelops/cloudbill/internal/invoicereport"
	"github.com/kestrelops/cloudbill/internal/metering"
	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
	"github.com/kestrelops/cloudbill/pkg/metrics"
)

func runReport(ctx context.Context, args []string) int {
	cfg, logg, err := bootstrap("cloudbill")
	if err != nil {
		logg.Error(ctx, "failed to load configuration", err)
		return pkgerrors.MetadataFor(pkgerrors.CodeConfig).ExitCode
	}

	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.StringVar(&cfg.Classic.APIKey, "k", cfg.Classic.APIKey, "classic infrastructure api key")
	fs.StringVar(&cfg.Report.StartMonth, "start", cfg.Report.StartMonth, "first invoice month, YYYY-MM")
	fs.StringVar(&cfg.Report.EndMonth, "end", cfg.Report.EndMonth, "last invoice month, YYYY-MM")
	fs.IntVar(&cfg.Report.Months, "months", cfg.Report.Months, "trailing months when no explicit range is set")
	fs.StringVar(&cfg.Report.OutputFile, "output", cfg.Report.OutputFile, "workbook file to write")
	fs.StringVar(&cfg.Classic.Endpoint, "sl-endpoint", cfg.Classic.Endpoint, "classic api endpoint override")
	fs.BoolVar(&cfg.Classic.PrivateNetwork, "sl-private", cfg.Classic.PrivateNetwork, "use the private network endpoint")
	fs.StringVar(&cfg.Sendgrid.APIKey, "sendgrid-key", cfg.Sendgrid.APIKey, "sendgrid api key for email delivery")
	fs.StringVar(&cfg.Sendgrid.From, "sendgrid-from", cfg.Sendgrid.From, "email sender address")
	recipients := fs.String("sendgrid-to", strings.Join(cfg.Sendgrid.To, ","), "comma separated recipient addresses")
	fs.StringVar(&cfg.Sendgrid.Subject, "sendgrid-subject", cfg.Sendgrid.Subject, "email subject override")
	fs.StringVar(&cfg.COS.AccessKeyID, "cos-access-key-id", cfg.COS.AccessKeyID, "object storage hmac access key id")
	fs.StringVar(&cfg.COS.SecretAccessKey, "cos-secret-access-key", cfg.COS.SecretAccessKey, "object storage hmac secret access key")
	fs.StringVar(&cfg.COS.Endpoint, "cos-endpoint", cfg.COS.Endpoint, "object storage endpoint")
	fs.StringVar(&cfg.COS.Bucket, "cos-bucket", cfg.COS.Bucket, "object storage bucket")
	fs.StringVar(&cfg.Metrics.PushgatewayURL, "pushgateway", cfg.Metrics.PushgatewayURL, "pushgateway url for run metrics")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.Sendgrid.To = splitRecipients(*recipients)

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
	identity, err := iam.NewClient(ctx, cfg.Usage, cfg.Classic.APIKey, logg)
	if err != nil {
		logg.Error(ctx, "failed to build identity client", err)
		return pkgerrors.ExitCodeFor(err)
	}
	meter, err := metering.NewClient(ctx, cfg.Usage, identity.TokenSource(ctx), logg)
	if err != nil {
		logg.Error(ctx, "failed to build usage client", err)
		return pkgerrors.ExitCodeFor(err)
	}

	params := invoicereport.Params{
		Logger:   logg,
		Portal:   portal,
		Identity: identity,
		Metering: meter,
		Metrics:  runMetrics,
		Config:   cfg.Report,
	}
	if cfg.Sendgrid.Enabled() {
		mailer, err := delivery.NewMailer(ctx, cfg.Sendgrid, logg)
		if err != nil {
			logg.Error(ctx, "failed to build mailer", err)
			return pkgerrors.ExitCodeFor(err)
		}
		params.Mailer = mailer
	}
	if cfg.COS.Complete() {
		uploader, err := delivery.NewUploader(ctx, cfg.COS, logg)
		if err != nil {
			logg.Error(ctx, "failed to build object storage uploader", err)
			return pkgerrors.ExitCodeFor(err)
		}
		params.Uploader = uploader
		// The workbook moves to the bucket; the local copy is scratch.
		params.RemoveFile = true
	}

	svc, err := invoicereport.New(params)
	if err != nil {
		logg.Error(ctx, "failed to build report service", err)
		return pkgerrors.ExitCodeFor(err)
	}

	started := time.Now()
	runErr := svc.Run(ctx)
	runMetrics.ObserveDuration("report", time.Since(started))
	if runErr != nil {
		runMetrics.IncFailure("report")
	} else {
		runMetrics.IncSuccess("report")
	}
	pushMetrics(ctx, logg, registry, cfg.Metrics, runID)

	if runErr != nil {
		ctx = logg.WithField(ctx, "error_dump", pkgerrors.Dump(runErr))
		logg.Error(ctx, "report run failed", runErr)
		return pkgerrors.ExitCodeFor(runErr)
	}
	logg.Info(ctx, "report run complete")
	return 0
}

// pushMetrics delivers run metrics to the configured Pushgateway. Scheduled
// runs exit right away, so scraping is not an option.
func pushMetrics(ctx context.Context, logg *logger.Logger, gatherer prometheus.Gatherer, cfg config.MetricsConfig, runID string) {
	if strings.TrimSpace(cfg.PushgatewayURL) == "" {
		return
	}
	if err := metrics.Push(ctx, gatherer, cfg.PushgatewayURL, cfg.JobName, runID); err != nil {
		logg.Error(ctx, "failed to push run metrics", err)
	}
}

func splitRecipients(raw string) []string {
	var recipients []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}
