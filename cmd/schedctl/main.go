// Command schedctl runs the availability operations against the database
// directly, for operators and cron jobs.
package main

import (
	"context"
	"os"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

func main() {
	open := func(ctx context.Context) (*appointment.Service, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "schedctl").Logger()
		rt, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return rt.Service, rt.Close, nil
	}

	if err := newRootCmd(open).Execute(); err != nil {
		os.Exit(1)
	}
}
