package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/boilerplate"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/broker"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/classifier"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/crawler"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/embeddings"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/extraction"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/llm"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/projects"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/reports"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/scheduler"
	badgerstore "github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
	"github.com/TKontu/knowledge-extraction-sub001/internal/storage/postgres"
)

// App owns every service and their startup/shutdown order.
type App struct {
	config *common.Config
	logger arbor.ILogger

	storage   interfaces.StorageManager
	broker    interfaces.LMBroker
	workers   []*llm.Worker
	scheduler *scheduler.Scheduler
	loader    *projects.Loader
	pipeline  *extraction.Pipeline
	entities  *extraction.EntityExtractor
	embedding *embeddings.Pipeline
	recovery  *embeddings.Recovery
}

// New wires the application from configuration. Nothing is started yet;
// call Start.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	var vectors interfaces.VectorStorage
	if config.Storage.VectorBackend == "postgres" {
		pg, err := postgres.NewVectorStorage(config.Storage.Postgres.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pgvector: %w", err)
		}
		vectors = pg
	}

	storage, err := badgerstore.NewManager(config, logger, vectors)
	if err != nil {
		return nil, err
	}

	endpoint, err := llm.NewClaudeService(&config.LLM, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize completion endpoint: %w", err)
	}

	requestTimeout := config.LLM.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Minute
	}

	var lmBroker interfaces.LMBroker
	var workers []*llm.Worker
	if config.LLM.QueueEnabled {
		lmBroker = broker.NewBroker(storage.KV(), &config.LLM, logger)
		workerCount := config.LLM.WorkerCount
		if workerCount <= 0 {
			workerCount = 1
		}
		hostname, _ := os.Hostname()
		for i := 0; i < workerCount; i++ {
			id := fmt.Sprintf("%s-llm-%d", hostname, i)
			workers = append(workers, llm.NewWorker(id, storage.KV(), endpoint, &config.LLM, logger))
		}
	} else {
		lmBroker = broker.NewDirect(endpoint, &config.LLM, logger)
		logger.Info().Msg("LM queue disabled, running in direct mode")
	}

	embedder, err := embeddings.NewGeminiService(ctx, &config.Embeddings, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize embedding service: %w", err)
	}
	embPipeline := embeddings.NewPipeline(embedder, storage.Vectors(), storage.Extractions(), &config.Embeddings, logger)
	recovery := embeddings.NewRecovery(embPipeline, storage.Extractions(), &config.Embeddings, logger)

	cls := classifier.NewClassifier(embedder, &config.Extraction, logger)
	orchestrator := extraction.NewOrchestrator(lmBroker, cls, &config.Extraction, requestTimeout, logger)
	bpEngine := boilerplate.NewEngine(storage.Sources(), storage.Boilerplate(), &config.Boilerplate, logger)
	dedup := extraction.NewDeduplicator(embPipeline, storage.Vectors(), storage.Extractions(), &config.Dedup, logger)
	entities := extraction.NewEntityExtractor(lmBroker, storage.Entities(), storage.Extractions(), storage.Projects(), &config.Extraction, requestTimeout, logger)
	pipeline := extraction.NewPipeline(storage, orchestrator, bpEngine, dedup, embPipeline, entities, config, logger)

	limiter := crawler.NewRateLimiter(storage.KV(), &config.Scrape, logger)
	fetcher := crawler.NewHTTPFetcher(limiter, config.Scrape.FetchTimeout, logger)
	scrapeWorker := crawler.NewScrapeWorker(fetcher, storage.Sources(), storage.Jobs(), &config.Crawl, logger)
	crawlWorker := crawler.NewCrawlWorker(fetcher, storage.Sources(), storage.Jobs(), lmBroker, &config.Crawl, logger)

	reporter := reports.NewGenerator(storage, logger)

	hostname, _ := os.Hostname()
	sched := scheduler.NewScheduler(storage.Jobs(), &config.Scheduler, hostname, logger)
	sched.Register(models.JobTypeExtract, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		return pipeline.HandleExtractJob(ctx, job, extraction.CancelCheck(cancelled))
	})
	sched.Register(models.JobTypeDedup, func(ctx context.Context, job *models.Job, cancelled func(context.Context) bool) (map[string]interface{}, error) {
		return pipeline.HandleDedupJob(ctx, job, extraction.CancelCheck(cancelled))
	})
	sched.Register(models.JobTypeScrape, scrapeWorker.HandleScrapeJob)
	sched.Register(models.JobTypeCrawl, crawlWorker.HandleCrawlJob)
	sched.Register(models.JobTypeReport, reporter.HandleReportJob)

	loader := projects.NewLoader(storage.Projects(), &config.Projects, logger)

	return &App{
		config:    config,
		logger:    logger,
		storage:   storage,
		broker:    lmBroker,
		workers:   workers,
		scheduler: sched,
		loader:    loader,
		pipeline:  pipeline,
		entities:  entities,
		embedding: embPipeline,
		recovery:  recovery,
	}, nil
}

// Start brings the system up: project definitions, vector collection, LM
// workers, recovery sweeps, then the scheduler.
func (a *App) Start(ctx context.Context) error {
	loaded, err := a.loader.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load project definitions: %w", err)
	}
	a.logger.Info().Int("projects", loaded).Msg("Project definitions synced")

	if err := a.embedding.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize vector collection: %w", err)
	}

	for _, worker := range a.workers {
		worker.Start(ctx)
	}
	if err := a.recovery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start embedding recovery: %w", err)
	}
	if err := a.entities.StartRetrySweep(ctx); err != nil {
		return fmt.Errorf("failed to start entity retry sweep: %w", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.logger.Info().Msg("Application started")
	return nil
}

// Storage exposes the storage manager for operational tooling.
func (a *App) Storage() interfaces.StorageManager {
	return a.storage
}

// Close shuts everything down in reverse order of Start.
func (a *App) Close() {
	a.scheduler.Stop()
	a.entities.StopRetrySweep()
	a.recovery.Stop()
	for _, worker := range a.workers {
		worker.Stop()
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close storage")
	}
	a.logger.Info().Msg("Application stopped")
}
