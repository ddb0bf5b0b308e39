package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/arenalabs/agentarena/internal/blob/s3"
	"github.com/arenalabs/agentarena/internal/domain"
	"github.com/arenalabs/agentarena/internal/notify"
	"github.com/arenalabs/agentarena/internal/pipeline"
	"github.com/arenalabs/agentarena/internal/platform/polymarket"
	"github.com/arenalabs/agentarena/internal/server"
	"github.com/arenalabs/agentarena/internal/server/handler"
	"github.com/arenalabs/agentarena/internal/server/ws"
	"github.com/arenalabs/agentarena/internal/service"
	"github.com/arenalabs/agentarena/internal/sim"
)

// services bundles the domain services every mode builds on top of the
// wired infrastructure.
type services struct {
	gamma       *polymarket.GammaClient
	markets     *service.MarketService
	agents      *service.AgentService
	predictions *service.PredictionService
	leaderboard *service.LeaderboardService
	tracker     *service.OddsTracker
	registry    *sim.Registry
}

func (a *App) buildServices(deps *Dependencies) *services {
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost, a.cfg.Polymarket.GammaRPS)

	board := service.NewLeaderboardService(deps.Agents, deps.Leaderboard, deps.Bus, a.logger)
	agents := service.NewAgentService(deps.Agents, deps.Audit, deps.Bus, a.logger)
	markets := service.NewMarketService(deps.Markets, deps.MarketCache, deps.Prices, deps.Bus, a.logger)
	preds := service.NewPredictionService(
		deps.Predictions, deps.Markets, deps.Agents,
		deps.Locks, board, deps.Audit, deps.Bus, a.logger,
	)
	tracker := service.NewOddsTracker(
		deps.Markets, deps.Predictions, deps.Prices,
		gamma, preds, deps.Bus,
		a.cfg.Tracker.Interval.Duration, a.cfg.Tracker.StaleAfter.Duration,
		a.logger,
	)

	return &services{
		gamma:       gamma,
		markets:     markets,
		agents:      agents,
		predictions: preds,
		leaderboard: board,
		tracker:     tracker,
		registry:    sim.DefaultRegistry(a.cfg.Sim.OpenAIKey, a.cfg.Sim.OpenAIModel),
	}
}

// ServeMode runs the API, WebSocket hub, and mark-to-market tracker. Bets
// come in over HTTP only; no simulated agents and no scraping.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.rebuildLeaderboard(ctx, svcs)

	hub := a.startHub(ctx, g, deps)
	g.Go(func() error { return svcs.tracker.Run(ctx) })
	a.startRelay(ctx, g, deps)
	a.startServer(ctx, g, deps, svcs, nil, hub)

	return g.Wait()
}

// SimMode runs the simulated agents and the tracker against an existing
// mirror. Serving and scraping are left to other processes.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.rebuildLeaderboard(ctx, svcs)
	a.seedAgents(ctx, svcs)

	engine := sim.NewEngine(
		deps.Agents, deps.Markets, svcs.predictions, svcs.registry,
		a.cfg.Sim.Interval.Duration, a.logger,
	)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return svcs.tracker.Run(ctx) })
	a.startRelay(ctx, g, deps)

	return g.Wait()
}

// ScrapeMode runs the market mirror sync and, when S3 is enabled, the
// nightly archival job. Nothing is served.
func (a *App) ScrapeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scrape mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	scraper := pipeline.NewMarketScraper(svcs.markets, svcs.gamma, a.logger)
	g.Go(func() error { return scraper.RunLoop(ctx, a.cfg.Pipeline.ScrapeInterval.Duration) })
	a.startArchival(ctx, g, deps)

	return g.Wait()
}

// FullMode runs every subsystem in one process: scraping, live price feed,
// tracker, simulated agents, archival, notifications, and the API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.rebuildLeaderboard(ctx, svcs)

	scraper := pipeline.NewMarketScraper(svcs.markets, svcs.gamma, a.logger)
	g.Go(func() error { return scraper.RunLoop(ctx, a.cfg.Pipeline.ScrapeInterval.Duration) })

	g.Go(func() error { return svcs.tracker.Run(ctx) })
	a.startPriceFeed(ctx, g, deps, svcs)

	if a.cfg.Sim.Enabled {
		a.seedAgents(ctx, svcs)
		engine := sim.NewEngine(
			deps.Agents, deps.Markets, svcs.predictions, svcs.registry,
			a.cfg.Sim.Interval.Duration, a.logger,
		)
		g.Go(func() error { return engine.Run(ctx) })
	}

	a.startArchival(ctx, g, deps)
	a.startRelay(ctx, g, deps)

	hub := a.startHub(ctx, g, deps)
	a.startServer(ctx, g, deps, svcs, scraper, hub)

	return g.Wait()
}

// startHub creates the WebSocket hub and adds its run loop to the group.
func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) *ws.Hub {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })
	return hub
}

// startServer registers all handlers and runs the HTTP server until the
// context is cancelled. scraper may be nil when the mode does not scrape;
// the admin trigger endpoint then reports unavailable.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svcs *services,
	scraper *pipeline.MarketScraper,
	hub *ws.Hub,
) {
	checks := map[string]handler.Pinger{
		"postgres": deps.PingPostgres,
		"redis":    deps.PingRedis,
	}
	if deps.PingS3 != nil {
		checks["s3"] = deps.PingS3
	}

	var scrapeTrigger handler.ScrapeTrigger
	if scraper != nil {
		scrapeTrigger = scraper
	}
	var archives handler.ArchiveLister
	if deps.BlobReader != nil {
		archives = deps.BlobReader
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(checks),
		Status:      handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), svcs.registry.List),
		Agents:      handler.NewAgentHandler(svcs.agents, svcs.predictions, a.logger),
		Markets:     handler.NewMarketHandler(svcs.markets, a.logger),
		Predictions: handler.NewPredictionHandler(svcs.predictions, a.logger),
		Leaderboard: handler.NewLeaderboardHandler(svcs.leaderboard, svcs.registry, a.logger),
		Admin:       handler.NewAdminHandler(svcs.predictions, svcs.agents, scrapeTrigger, deps.Audit, archives, a.logger),
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startPriceFeed connects the CLOB WebSocket feed and routes its quotes
// into the price cache. A failed connect degrades to Gamma polling only.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if a.cfg.Polymarket.WsHost == "" {
		return
	}

	feed := polymarket.NewPriceFeed(a.cfg.Polymarket.WsHost)
	feed.OnQuote(func(q domain.PriceQuote) {
		if err := deps.Prices.SetQuote(ctx, q); err != nil {
			a.logger.DebugContext(ctx, "feed quote write failed",
				slog.String("market_id", q.MarketID),
				slog.String("error", err.Error()),
			)
		}
	})

	g.Go(func() error {
		defer feed.Close()
		if err := feed.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "price feed connect failed, staying on polling",
				slog.String("error", err.Error()),
			)
			return nil
		}
		a.watchActiveMarkets(ctx, feed, deps.Markets)
		<-ctx.Done()
		return ctx.Err()
	})
}

// watchActiveMarkets subscribes the feed to the current active markets.
func (a *App) watchActiveMarkets(ctx context.Context, feed *polymarket.PriceFeed, markets domain.MarketStore) {
	active, err := markets.ListActive(ctx, domain.ListOpts{Limit: 100})
	if err != nil {
		a.logger.WarnContext(ctx, "price feed: list active markets failed",
			slog.String("error", err.Error()),
		)
		return
	}
	watched := 0
	for _, m := range active {
		if err := feed.Watch(ctx, m); err != nil {
			a.logger.WarnContext(ctx, "price feed: watch failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		watched++
	}
	a.logger.InfoContext(ctx, "price feed watching markets", slog.Int("markets", watched))
}

// startArchival runs the nightly cold-storage job when blob storage is
// wired for this mode.
func (a *App) startArchival(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.BlobWriter == nil {
		return
	}
	archiver := s3blob.NewArchiver(deps.BlobWriter, deps.Predictions, deps.Leaderboard, deps.Audit, a.logger)
	runner := pipeline.NewArchiveRunner(archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.cfg.Pipeline.ArchiveHourUTC, a.logger)
	g.Go(func() error { return runner.RunDaily(ctx) })
}

// startRelay forwards bus events to the configured notification channels.
func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Notify.TelegramToken == "" && a.cfg.Notify.DiscordWebhookURL == "" {
		return
	}
	relay := notify.NewRelay(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error { return relay.Run(ctx) })
}

// seedAgents creates the built-in roster when enabled. Existing agents are
// left alone.
func (a *App) seedAgents(ctx context.Context, svcs *services) {
	if !a.cfg.Sim.SeedAgents {
		return
	}
	if err := svcs.agents.SeedHouseAgents(ctx); err != nil {
		a.logger.WarnContext(ctx, "seeding house agents failed", slog.String("error", err.Error()))
	}
}

// rebuildLeaderboard repopulates the ranking set from the ledger so the
// zset survives Redis restarts.
func (a *App) rebuildLeaderboard(ctx context.Context, svcs *services) {
	if err := svcs.leaderboard.Rebuild(ctx); err != nil {
		a.logger.WarnContext(ctx, "leaderboard rebuild failed", slog.String("error", err.Error()))
	}
}
