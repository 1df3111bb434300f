package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/cardsight/cardsight/external/reportsink"
	"github.com/cardsight/cardsight/external/sportmonks"
	"github.com/cardsight/cardsight/internal/config"
	"github.com/cardsight/cardsight/internal/domain/match"
	"github.com/cardsight/cardsight/internal/domain/referee"
	"github.com/cardsight/cardsight/internal/domain/team"
	cacherepo "github.com/cardsight/cardsight/internal/infrastructure/repository/cache"
	"github.com/cardsight/cardsight/internal/infrastructure/repository/postgres"
	"github.com/cardsight/cardsight/internal/interfaces/httpapi"
	"github.com/cardsight/cardsight/internal/platform/cache"
	idgen "github.com/cardsight/cardsight/internal/platform/id"
	"github.com/cardsight/cardsight/internal/platform/logging"
	"github.com/cardsight/cardsight/internal/platform/resilience"
	"github.com/cardsight/cardsight/internal/usecase"
)

// App holds the wired service graph. Refresh is exposed so main can drive
// the periodic staleness tick alongside the HTTP server.
type App struct {
	Server  *http.Server
	Refresh *usecase.RefreshService
	DB      *sqlx.DB
}

func New(cfg config.Config, logger *slog.Logger, appLogger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if appLogger == nil {
		appLogger = logging.Default()
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	matchRepo := postgres.NewMatchRepository(db)
	eventRepo := postgres.NewMatchEventRepository(db)
	teamRepo := postgres.NewTeamRepository(db)
	refereeRepo := postgres.NewRefereeRepository(db)
	jobRepo := postgres.NewIngestJobRepository(db)
	ingestStore := postgres.NewIngestStore(db)
	aggregateRepo := postgres.NewAggregateRepository(db)

	var provider usecase.MatchDataProvider
	if cfg.SportMonksEnabled {
		client := sportmonks.NewClient(sportmonks.ClientConfig{
			BaseURL:    cfg.SportMonksBaseURL,
			Token:      cfg.SportMonksToken,
			Timeout:    cfg.SportMonksTimeout,
			MaxRetries: cfg.SportMonksMaxRetries,
			RateLimit:  cfg.SportMonksRateLimit,
			RateWindow: cfg.SportMonksRateWindow,
			Logger:     appLogger,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.SportMonksCircuitEnabled,
				FailureThreshold: cfg.SportMonksCircuitFailureCount,
				OpenTimeout:      cfg.SportMonksCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.SportMonksCircuitHalfOpenMaxReq,
			},
		})
		provider = sportmonks.NewProvider(client)
	}

	ingestionSvc := usecase.NewIngestionService(usecase.IngestionConfig{
		Enabled:               cfg.SportMonksEnabled,
		SeasonIDByCompetition: cfg.SeasonIDByCompetition,
		MaxWorkers:            cfg.IngestMaxWorkers,
		MaxJobRetries:         cfg.IngestMaxJobRetries,
		RetryBackoff:          cfg.IngestRetryBackoff,
		AbandonedJobTimeout:   cfg.IngestAbandonedJobTimeout,
	}, provider, jobRepo, ingestStore, appLogger)

	enrichmentSvc := usecase.NewEnrichmentService(usecase.EnrichmentConfig{
		MaxWorkers: cfg.EnrichMaxWorkers,
	}, matchRepo, eventRepo, eventRepo, appLogger)

	refreshSvc := usecase.NewRefreshService(usecase.RefreshConfig{
		LockTimeout:      cfg.RefreshLockTimeout,
		SourceVersionTTL: cfg.RefreshSourceVersionTTL,
	}, aggregateRepo, aggregateRepo, idgen.NewRandomGenerator(), appLogger)

	var timelineMatches match.Repository = matchRepo
	var timelineTeams team.Repository = teamRepo
	var timelineReferees referee.Repository = refereeRepo
	if cfg.CacheEnabled {
		store := cache.NewStore(cfg.CacheTTL)
		timelineMatches = cacherepo.NewMatchSeasonIndex(matchRepo, store)
		timelineTeams = cacherepo.NewTeamRepository(teamRepo, store)
		timelineReferees = cacherepo.NewRefereeRepository(refereeRepo, store)
	}

	timelineSvc := usecase.NewTimelineService(timelineMatches, eventRepo, timelineTeams, timelineReferees)

	var reports httpapi.ReportPublisher
	if cfg.ReportWebhookEnabled {
		reports = reportsink.NewWebhookPublisher(reportsink.WebhookPublisherConfig{
			WebhookURL: cfg.ReportWebhookURL,
			Token:      cfg.ReportWebhookToken,
			Timeout:    cfg.ReportWebhookTimeout,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.ReportCircuitEnabled,
				FailureThreshold: cfg.ReportCircuitFailureCount,
				OpenTimeout:      cfg.ReportCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.ReportCircuitHalfOpenMaxReq,
			},
		}, logger)
	}

	handler := httpapi.NewHandler(ingestionSvc, enrichmentSvc, refreshSvc, timelineSvc, reports, logger)
	router := httpapi.NewRouter(handler, logger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	return &App{
		Server:  server,
		Refresh: refreshSvc,
		DB:      db,
	}, nil
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	dsn := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)

	db, err := otelsqlx.Open("postgres", dsn,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
