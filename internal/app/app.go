package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"venuewatch/internal/alerting"
	"venuewatch/internal/config"
	"venuewatch/internal/connector"
	"venuewatch/internal/isolation"
	"venuewatch/internal/kpi"
	"venuewatch/internal/orchestrator"
	"venuewatch/internal/scheduler"
	"venuewatch/internal/service"
	"venuewatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	for _, src := range a.Config.Sources {
		registry.Register(src.Name, connector.NewProvider(connector.ProviderOptions{
			Name:      src.Name,
			BaseURL:   src.BaseURL,
			APIKey:    src.APIKey,
			Timeout:   src.RequestTimeout,
			UserAgent: src.UserAgent,
		}, a.Logger))
	}
	return registry
}

func (a *App) boundaryConfig() map[string]isolation.SourceBoundary {
	boundaries := make(map[string]isolation.SourceBoundary, len(a.Config.Sources))
	for _, src := range a.Config.Sources {
		boundaries[src.Name] = isolation.SourceBoundary{
			RevenueCritical: src.RevenueCritical,
			MaxRetries:      src.MaxRetries,
			RetryDelay:      src.RetryDelay,
			AlertOnFailure:  src.AlertOnFailure,
		}
	}
	return boundaries
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if err := storage.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the monitoring service")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if len(a.Config.Venues) == 0 {
		return errors.New("at least one venue must be configured")
	}
	if len(a.Config.Sources) == 0 {
		return errors.New("at least one source must be configured")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()
	emitter := alerting.NewSystemEmitter(store, notifier, a.Logger)
	boundary := isolation.New(a.boundaryConfig(), store, emitter, a.Logger)
	registry := a.newRegistry()

	calc := kpi.NewCalculator(store, store, a.Logger)
	refresher := service.NewRefresher(calc, store, a.Logger)

	staleAfter := 2 * a.Config.Scheduler.Interval
	if staleAfter < 10*time.Minute {
		staleAfter = 10 * time.Minute
	}
	orch := orchestrator.New(registry, boundary, store, store, refresher, orchestrator.Options{
		StaleAfter: staleAfter,
	}, a.Logger)

	generator := alerting.NewGenerator(alerting.DefaultRules(a.Config.Alerting), a.Logger)

	svc := service.New(a.Config, sched, orch, calc, generator, store, store, notifier, a.Logger)

	a.Logger.Info().
		Int("venues", len(a.Config.Venues)).
		Int("sources", len(a.Config.Sources)).
		Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical summaries.
type ExportOptions struct {
	VenueID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	VenueID string
	Limit   int
}

// BackfillOptions configure historical summary recomputation.
type BackfillOptions struct {
	VenueID string
	From    time.Time
	To      time.Time
	DryRun  bool
}

// SimulateOptions feed a synthetic metrics snapshot through the alert
// pipeline.
type SimulateOptions struct {
	VenueID         string
	CurrentRevenue  decimal.Decimal
	PreviousRevenue decimal.Decimal
	TicketsSold     int64
}

func (a *App) resolveVenue(venueID string) (string, error) {
	if venueID != "" {
		return venueID, nil
	}
	if len(a.Config.Venues) == 0 {
		return "", errors.New("no venue configured and --venue not provided")
	}
	return a.Config.Venues[0], nil
}
