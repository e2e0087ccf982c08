// Package app assembles the broker components from a Config.
package app

import (
	"github.com/benbjohnson/clock"

	"ice-broker/internal/config"
	"ice-broker/internal/credential"
	"ice-broker/internal/infrastructure"
	"ice-broker/internal/usecase"
)

type App struct {
	Metrics    *infrastructure.Metrics
	Events     *infrastructure.EventLog
	Broker     *credential.Broker
	Interactor *usecase.ConfigInteractor
}

func New(cfg config.Config) *App {
	clk := clock.New()
	metrics := infrastructure.NewMetrics()
	events := infrastructure.NewEventLog(metrics)

	fetcher := credential.NewHTTPFetcher(cfg.Endpoint, cfg.APIKey, nil, clk)
	cache := credential.NewCache(clk, cfg.CacheTTL)
	broker := credential.NewBroker(fetcher, cache,
		credential.WithClock(clk),
		credential.WithEvents(events),
	)

	return &App{
		Metrics:    metrics,
		Events:     events,
		Broker:     broker,
		Interactor: usecase.NewConfigInteractor(broker, cfg.Discovery(), cfg.Tuning(), events),
	}
}
