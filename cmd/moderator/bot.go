package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"

	"github.com/whisper/guardbot/internal/engine"
	"github.com/whisper/guardbot/internal/escalation"
	"github.com/whisper/guardbot/internal/health"
	"github.com/whisper/guardbot/internal/history"
	"github.com/whisper/guardbot/internal/incident"
	"github.com/whisper/guardbot/internal/messaging"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/permission"
	"github.com/whisper/guardbot/internal/platform"
	"github.com/whisper/guardbot/internal/ratelimit"
	"github.com/whisper/guardbot/internal/telegram"
	"github.com/whisper/guardbot/internal/welcome"
)

func runBot(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.With().Str("component", "main").Logger()

	lexicon := moderation.LoadLexicon(cctx.String("word-list"))
	links := moderation.NewLinkClassifier(cctx.StringSlice("allowed-domains")...)
	filter := moderation.NewFilter(lexicon, links)
	logger.Info().Int("terms", lexicon.Len()).Strs("allowed_domains", links.Domains()).Msg("filter ready")

	settings := telegram.DefaultSettings()
	settings.Token = cctx.String("telegram-token")
	settings.SendRate = cctx.Float64("send-rate")
	client, err := telegram.NewClient(settings)
	if err != nil {
		return err
	}

	policy := escalation.DefaultPolicy()
	policy.DecayWindow = cctx.Duration("decay-window")
	ledger := escalation.NewLedger(policy)
	buffer := history.NewBuffer(cctx.Int("history-size"))

	deps := engine.Deps{
		Actions:     client,
		Filter:      filter,
		Permissions: permission.NewCache(client, client.BotID(), cctx.Duration("permission-ttl")),
		History:     buffer,
		Ledger:      ledger,
	}

	// Redis: ledger snapshots and notice flood control.
	var snapshots escalation.SnapshotStore
	if addr := cctx.String("redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", addr, err)
		}

		store := escalation.NewRedisSnapshotStore(rdb, policy.DecayWindow)
		n, err := escalation.RestoreSnapshot(ctx, ledger, store, time.Now())
		if err != nil {
			logger.Warn().Err(err).Msg("ledger restore failed, starting empty")
		} else {
			logger.Info().Int("records", n).Msg("ledger restored")
		}
		snapshots = store
		deps.Limiter = ratelimit.NewNoticeLimiter(rdb, ratelimit.Rule{
			Key:    ratelimit.RuleNotice.Key,
			Limit:  cctx.Int("notice-limit"),
			Window: cctx.Duration("notice-window"),
		})
	}

	// NATS: action feed.
	if url := cctx.String("nats-url"); url != "" {
		cfg := messaging.DefaultNATSConfig()
		cfg.URL = url
		nc, err := messaging.NewNATSClient(cfg)
		if err != nil {
			return err
		}
		defer nc.Close()
		deps.Sinks = append(deps.Sinks, messaging.NewEventPublisher(nc))
	}

	// PostgreSQL: incident log.
	if dsn := cctx.String("database-url"); dsn != "" {
		incidents, err := incident.Open(ctx, dsn)
		if err != nil {
			return err
		}
		defer incidents.Close()
		deps.Sinks = append(deps.Sinks, incidents)
	}

	eng := engine.New(engine.Config{BotID: client.BotID()}, deps)
	greeter := welcome.New(client, nil)

	probe := health.NewServer(cctx.String("listen"), eng)
	go func() {
		if err := probe.Start(); err != nil {
			logger.Error().Err(err).Msg("probe server failed")
		}
	}()

	decayDone := make(chan struct{})
	go func() {
		defer close(decayDone)
		escalation.StartDecay(ctx, ledger, cctx.Duration("decay-interval"), snapshots, func(now time.Time) {
			if n := buffer.Prune(now.Add(-policy.DecayWindow)); n > 0 {
				logger.Debug().Int("rings", n).Msg("idle history pruned")
			}
		})
	}()

	logger.Info().
		Str("bot", client.Username()).
		Str("listen", cctx.String("listen")).
		Bool("redis", snapshots != nil).
		Int("sinks", len(deps.Sinks)).
		Msg("moderator running")

	client.Run(ctx, telegram.Handlers{
		OnText: func(ctx context.Context, msg platform.TextMessage) {
			eng.HandleMessage(ctx, msg)
		},
		OnMembership: func(ctx context.Context, ev platform.MembershipEvent) {
			eng.HandleMembership(ctx, ev)
			greeter.Handle(ctx, ev)
		},
	})

	logger.Info().Msg("shutting down")
	eng.Stop()

	select {
	case <-decayDone:
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("decay loop did not stop in time")
	}
	if err := probe.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("probe shutdown")
	}
	return nil
}
