// Package supervisor wires configuration, storage, the REST/rate-limit
// layer, the gateway session, and the backfill workers into one
// errgroup-supervised process, per the reference client library's own
// construction-then-Start lifecycle.
package supervisor

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/patrick-slimelab/discord-indexer/internal/backfill"
	"github.com/patrick-slimelab/discord-indexer/internal/config"
	"github.com/patrick-slimelab/discord-indexer/internal/discordapi"
	"github.com/patrick-slimelab/discord-indexer/internal/gateway"
	"github.com/patrick-slimelab/discord-indexer/internal/httpserver"
	"github.com/patrick-slimelab/discord-indexer/internal/logx"
	"github.com/patrick-slimelab/discord-indexer/internal/metrics"
	"github.com/patrick-slimelab/discord-indexer/internal/normalize"
	"github.com/patrick-slimelab/discord-indexer/internal/ratelimit"
	"github.com/patrick-slimelab/discord-indexer/internal/store"
	"github.com/patrick-slimelab/discord-indexer/internal/worker"
)

const staleClaimSweepInterval = time.Minute

// backfillChannelTypes mirrors spec's channel types {0,5}: guild text and
// guild announcement.
var backfillChannelTypes = map[discordapi.ChannelType]bool{
	discordapi.ChannelTypeGuildText:         true,
	discordapi.ChannelTypeGuildAnnouncement: true,
}

// Supervisor runs the whole indexer process.
type Supervisor struct {
	cfg    *config.Config
	logger logx.Logger
}

// New constructs a Supervisor.
func New(cfg *config.Config, logger logx.Logger) *Supervisor {
	if logger == nil {
		logger = logx.Discard
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// Run executes the full startup sequence and blocks until ctx is cancelled
// or a worker fails.
func (s *Supervisor) Run(ctx context.Context) error {
	st, err := store.Open(ctx, s.cfg.MongoURI, s.cfg.MongoDB, s.logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	coordinator := ratelimit.New(&http.Client{Timeout: 30 * time.Second}, "Bot "+s.cfg.DiscordBotToken, s.logger)
	coordinator.OnRateLimited(func(routeKey string) { m.RateLimitHitsTotal.WithLabelValues(routeKey).Inc() })
	api := discordapi.New(coordinator, s.cfg.DiscordAPIBase, s.logger)

	if err := s.seedGuildsAndChannels(ctx, api, st); err != nil {
		return err
	}

	adaptedStore := storeAdapter{st}

	var workers []worker.Worker
	for i := 0; i < s.cfg.BackfillWorkers; i++ {
		bw := backfill.New(
			i, adaptedStore, api, s.cfg.BackfillPageSize,
			time.Duration(s.cfg.BackfillRequestDelayMs)*time.Millisecond, s.logger,
		)
		bw.OnError(func(channelID string) { m.BackfillErrorsTotal.WithLabelValues(channelID).Inc() })
		bw.OnDone(func(channelID string) { m.BackfillChannelsDone.Inc() })
		workers = append(workers, bw)
	}

	dispatch := s.messageDispatcher(st, m)
	gatewaySupervisor := gateway.NewSupervisor(s.cfg.DiscordGateway, s.cfg.DiscordBotToken, s.cfg.DiscordIntents, dispatch, s.logger)
	gatewaySupervisor.OnReconnect(func() { m.GatewayReconnects.Inc() })
	workers = append(workers, gatewaySupervisor)

	workers = append(workers, s.staleClaimSweeper(st, m))

	httpHandler := httpserver.New(reg, func(ctx context.Context) error {
		return st.Ping(ctx)
	})
	workers = append(workers, httpserver.NewWorker(s.cfg.HTTPAddr, httpHandler))

	runner := worker.NewRunner(s.logger, workers...)
	return runner.Run(ctx)
}

// seedGuildsAndChannels resolves the guild list (configured CSV, else
// discovery) and seeds backfill state for every text/announcement channel.
func (s *Supervisor) seedGuildsAndChannels(ctx context.Context, api *discordapi.Client, st *store.Store) error {
	guildIDs := s.cfg.DiscordGuildIDs
	if len(guildIDs) == 0 {
		guilds, err := api.ListGuilds(ctx)
		if err != nil {
			return err
		}
		for _, g := range guilds {
			guildIDs = append(guildIDs, g.ID)
		}
	}

	for _, guildID := range guildIDs {
		channels, err := api.ListGuildChannels(ctx, guildID)
		if err != nil {
			s.logger.WithFields(map[string]any{"guild_id": guildID, "error": err.Error()}).Warn("list channels failed")
			continue
		}
		for _, ch := range channels {
			if !backfillChannelTypes[ch.Type] {
				continue
			}
			if err := st.SeedBackfill(ctx, ch.ID, guildID); err != nil {
				s.logger.WithFields(map[string]any{"channel_id": ch.ID, "error": err.Error()}).Warn("seed backfill failed")
			}
		}
	}
	return nil
}

// messageDispatcher adapts the gateway's raw-payload callback into the
// normalize → store pipeline for live messages.
func (s *Supervisor) messageDispatcher(st *store.Store, m *metrics.Metrics) gateway.Dispatcher {
	return func(raw []byte) {
		msg, ok := normalize.Normalize(raw, normalize.SourceLive)
		if !ok {
			return
		}
		ctx := context.Background()
		if err := st.InsertMessage(ctx, msg); err != nil {
			s.logger.WithField("error", err.Error()).Error("insert live message failed")
			return
		}
		m.MessagesIngestedTotal.WithLabelValues(string(msg.Source)).Inc()
		if msg.AuthorID != "" {
			_ = st.UpsertUser(ctx, msg.AuthorID, msg.AuthorName, msg.AuthorGlobal, msg.TimestampMs)
		}
	}
}

// staleClaimSweeper wraps SweepStaleClaims as a Worker that runs on a fixed
// interval, recovering channels a crashed worker left claimed=true.
type staleClaimSweeperWorker struct {
	st     *store.Store
	m      *metrics.Metrics
	after  time.Duration
	logger logx.Logger
}

func (s *Supervisor) staleClaimSweeper(st *store.Store, m *metrics.Metrics) worker.Worker {
	return &staleClaimSweeperWorker{
		st:     st,
		m:      m,
		after:  time.Duration(s.cfg.StaleClaimAfterMinutes) * time.Minute,
		logger: s.logger,
	}
}

func (w *staleClaimSweeperWorker) Name() string { return "stale_claim_sweeper" }

func (w *staleClaimSweeperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(staleClaimSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.st.SweepStaleClaims(ctx, time.Now().Add(-w.after))
			if err != nil {
				w.logger.WithField("error", err.Error()).Error("stale claim sweep failed")
				continue
			}
			if n > 0 {
				w.logger.WithField("recovered", n).Info("recovered stale claims")
				w.m.StaleClaimsRecovered.Add(float64(n))
			}
		}
	}
}
