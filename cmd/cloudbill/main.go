package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	// Service period math runs on the billing zone even where the host
	// has no tz database.
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/kestrelops/cloudbill/pkg/config"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

const usage = `usage: cloudbill [subcommand] [flags]

Subcommands:
  report     build the invoice analysis workbook (default)
  recurring  print recurring invoices for a date range

Run "cloudbill <subcommand> -h" for the subcommand's flags.
`

func main() {
	args := os.Args[1:]
	sub := "report"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub = args[0]
		args = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch sub {
	case "report":
		os.Exit(runReport(ctx, args))
	case "recurring":
		os.Exit(runRecurring(ctx, args))
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n%s", sub, usage)
		os.Exit(2)
	}
}

// bootstrap loads the environment and configuration under a plain logger,
// then rebuilds the logger at the configured level.
func bootstrap(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}

	logg = logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}
