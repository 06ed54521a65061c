package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/lascentlo/internal/domain/notify"
	"github.com/xenking/lascentlo/internal/external/kafka"
	"github.com/xenking/lascentlo/internal/external/smtp"
	"github.com/xenking/lascentlo/internal/storage/postgres"
)

// newRelay builds an outbox relay over the configured sinks. The returned
// func closes sinks holding connections.
func newRelay(cfg *Config, outbox notify.Outbox, lg *zap.Logger) (*notify.Relay, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func() error
	)
	if cfg.SMTP.Host != "" {
		s, err := smtp.New(smtp.Config{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			From:      cfg.SMTP.From,
			ClientURL: cfg.ClientURL,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "smtp sink")
		}
		sinks = append(sinks, s)
	}
	if brokers := kafka.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		s, err := kafka.New(brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, errors.Wrap(err, "kafka sink")
		}
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	if len(sinks) == 0 {
		lg.Warn("No notification sinks configured, events will only be logged")
		sinks = append(sinks, notify.NewLogSink(lg.Named("notify")))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	lg.Info("Notification relay configured", zap.Strings("sinks", names))

	relay := notify.NewRelay(outbox, sinks, notify.RelayConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Lease:       cfg.Outbox.Lease,
	}, lg.Named("relay"))
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				lg.Warn("Close sink", zap.Error(err))
			}
		}
	}
	return relay, closeAll, nil
}

// RunNotifier drains the outbox until ctx is cancelled. It runs alongside
// API servers started with Outbox.Embedded disabled.
func RunNotifier(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	relay, closeSinks, err := newRelay(cfg, postgres.NewOutboxRepository(pool), lg)
	if err != nil {
		return err
	}
	defer closeSinks()

	lg.Info("Notifier started", zap.Duration("interval", cfg.Outbox.Interval))
	return relay.Run(ctx)
}
