package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/health"
)

const probeInterval = 15 * time.Second

// RunStage consumes the stage queue with h and serves gRPC health until ctx is done.
func (d *Deps) RunStage(ctx context.Context, stage constants.Stage, h async.Handler) error {
	hs := health.NewServer(d.Logger)
	if err := hs.Listen(d.Config.Server.HealthAddr); err != nil {
		return err
	}
	consumer := async.NewConsumer(async.ConsumerConfig{
		URL:               d.Config.Broker.URL,
		Exchange:          d.Config.Broker.Exchange,
		Stage:             stage,
		ReconnectInterval: d.Config.Broker.ReconnectInterval,
		MaxConcurrentJobs: d.Config.Broker.MaxConcurrentJobs,
	}, h, d.Logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hs.Serve(ctx) })
	g.Go(func() error {
		hs.Watch(ctx, probeInterval, map[string]health.Probe{"reports-api": d.API.Health})
		return nil
	})
	g.Go(func() error { return consumer.Run(ctx) })
	return g.Wait()
}
