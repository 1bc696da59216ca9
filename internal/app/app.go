// Package app builds the object graph shared by the server and the worker
// binaries from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/ignite/outreach-sequencer/internal/alerting"
	"github.com/ignite/outreach-sequencer/internal/api"
	"github.com/ignite/outreach-sequencer/internal/archive"
	"github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/contentgen"
	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/distlock"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/queue"
	"github.com/ignite/outreach-sequencer/internal/repository/postgres"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
	"github.com/ignite/outreach-sequencer/internal/service/sending"
	"github.com/ignite/outreach-sequencer/internal/service/sequence"
	"github.com/ignite/outreach-sequencer/internal/service/suppression"
	"github.com/ignite/outreach-sequencer/internal/ses"
	"github.com/ignite/outreach-sequencer/internal/smartlead"
	"github.com/ignite/outreach-sequencer/internal/worker"
)

// TaskQueue is what both the Redis queue and the inline runner offer.
type TaskQueue interface {
	queue.Registry
	EnqueueEntry(ctx context.Context, kind, entryID string) (queue.TaskHandle, error)
	EnqueueWebhook(ctx context.Context, recordID string) error
	EnqueueOnce(ctx context.Context, kind, key string, ttl time.Duration, payload interface{}) (queue.TaskHandle, bool, error)
}

// App holds the wired services.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client

	// Queue is nil when Redis is not configured; Inline runs tasks in
	// process instead.
	Queue  *queue.Queue
	Inline *queue.Inline
	Pool   *queue.Pool

	Threads *postgres.ThreadRepo
	Entries *postgres.EntryRepo

	Schedule    *schedule.Service
	Generation  *generation.Service
	Sending     *sending.Service
	Reconcile   *reconcile.Service
	Suppression *suppression.Service
	Alerts      *alerting.Notifier
}

// New connects to Postgres (and Redis when configured) and wires every
// service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}

	if cfg.Redis.URL != "" {
		if a.Redis, err = openRedis(ctx, cfg.Redis.URL); err != nil {
			db.Close()
			return nil, err
		}
		a.Queue = queue.New(a.Redis, cfg.Redis.QueueName)
		a.Pool = queue.NewPool(a.Queue, cfg.Queue.Workers)
		a.Pool.SetMaxAttempts(cfg.Queue.MaxAttempts)
		a.Pool.SetBackoff(cfg.Queue.Backoff())
	} else {
		logger.Warn("REDIS_URL not set, running tasks inline")
		a.Inline = queue.NewInline()
	}

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	a.Threads = postgres.NewThreadRepo(a.DB)
	a.Entries = postgres.NewEntryRepo(a.DB)
	templates := postgres.NewTemplateRepo(a.DB)
	contents := postgres.NewContentRepo(a.DB)

	alerts, err := alerting.New(cfg.Alerting)
	if err != nil {
		return err
	}
	a.Alerts = alerts

	a.Schedule = schedule.NewService(a.Entries, postgres.NewSendingScheduleRepo(a.DB),
		postgres.NewVolumeRepo(a.DB), a.Threads, sequence.NewResolver(templates))
	a.Schedule.SetDefaultWindow(schedule.DefaultWindow{
		Weekdays:  cfg.Scheduling.Weekdays(),
		StartHour: cfg.Scheduling.DefaultStartHour,
		EndHour:   cfg.Scheduling.DefaultEndHour,
		Timezone:  cfg.Scheduling.DefaultTimezone,
	})
	if cfg.Scheduling.Jitter {
		a.Schedule.SetJitter(rand.New(rand.NewSource(time.Now().UnixNano())))
	}

	a.Suppression = suppression.NewService(postgres.NewSuppressionRepo(a.DB))

	generator, err := buildGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	a.Generation = generation.NewService(a.Entries, contents, a.Threads, templates, generator, a.Schedule)
	a.Generation.SetPolicy(generation.GenerationPolicy{
		UpFront:             cfg.Scheduling.UpFront,
		GenerateImmediately: cfg.Scheduling.GenerateImmediately,
	})
	a.Generation.SetMaxAttempts(cfg.Scheduling.GenerationMaxAttempts)
	a.Generation.SetAlerter(a.Alerts)

	transports, err := buildTransports(ctx, cfg)
	if err != nil {
		return err
	}
	a.Sending = sending.NewService(a.Entries, contents, a.Threads, transports, a.Schedule)
	a.Sending.SetLazyFollowUps(!cfg.Scheduling.UpFront)
	a.Sending.SetMaxAttempts(cfg.Scheduling.SendMaxAttempts)
	a.Sending.SetStats(templates)
	a.Sending.SetAlerter(a.Alerts)
	a.Sending.SetSuppressionList(a.Suppression)

	a.Reconcile = reconcile.NewService(postgres.NewWebhookRecordRepo(a.DB), a.Threads, a.Entries,
		templates, buildClassifier(cfg), a.Schedule, smartlead.Decoder{})
	a.Reconcile.SetSuppressor(a.Suppression)
	if a.Queue != nil {
		a.Reconcile.SetEnqueuer(a.Queue)
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		a.Reconcile.SetArchiver(archiver)
	}

	worker.Register(a.tasks(), a.Generation, a.Sending, a.Reconcile)
	return nil
}

func (a *App) tasks() TaskQueue {
	if a.Pool != nil {
		return pooledQueue{Queue: a.Queue, Pool: a.Pool}
	}
	return a.Inline
}

// pooledQueue enqueues on the Redis queue and registers handlers on the
// pool that drains it.
type pooledQueue struct {
	*queue.Queue
	*queue.Pool
}

// APIDeps returns the collaborators for the HTTP handlers. Without Redis
// the handlers run generation and webhook processing inline.
func (a *App) APIDeps() api.Deps {
	deps := api.Deps{
		Schedule:     a.Schedule,
		Starter:      a.Generation,
		Threads:      a.Threads,
		Webhooks:     a.Reconcile,
		Generator:    a.Generation,
		Suppressions: a.Suppression,
	}
	if a.Queue != nil {
		deps.Tasks = a.Queue
	}
	return deps
}

// HealthChecker builds the checker for /health.
func (a *App) HealthChecker() *api.HealthChecker {
	var stats api.QueueStats
	if a.Queue != nil {
		stats = a.Queue
	}
	return api.NewHealthChecker(a.DB, a.Redis, stats)
}

// Sweeper builds the periodic sweeper over the active task queue.
func (a *App) Sweeper() *worker.Sweeper {
	cfg := a.Config
	s := worker.NewSweeper(a.Entries, a.tasks(), a.Reconcile, a.lockFactory(), worker.SweepConfig{
		GenerationInterval:    cfg.Sweeps.GenerationInterval(),
		SendInterval:          cfg.Sweeps.SendInterval(),
		WebhookInterval:       cfg.Sweeps.WebhookInterval(),
		EscalationInterval:    cfg.Sweeps.EscalationInterval(),
		LeadTime:              cfg.Scheduling.LeadTime(),
		StaleAge:              cfg.Sweeps.StaleAge(),
		GenerationMaxAttempts: cfg.Scheduling.GenerationMaxAttempts,
		SendMaxAttempts:       cfg.Scheduling.SendMaxAttempts,
		BatchSize:             cfg.Sweeps.BatchSize,
	})
	s.SetAlerter(a.Alerts)
	return s
}

// Retention builds the worker that prunes completed records.
func (a *App) Retention() *worker.RetentionWorker {
	return worker.NewRetentionWorker(a.DB, a.Config.Sweeps.WebhookRetention())
}

func (a *App) lockFactory() worker.LockFactory {
	return func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(a.Redis, a.DB, key, ttl)
	}
}

// Close releases connections and flushes pending alerts.
func (a *App) Close() {
	if a.Alerts != nil {
		a.Alerts.Flush(2 * time.Second)
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		logger.Warn("database close failed", "error", err)
	}
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime())
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database", "max_open_conns", cfg.MaxOpenConns)
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", "addr", opts.Addr)
	return client, nil
}

// buildGenerator prefers OpenAI and falls back to Bedrock when both are
// enabled.
func buildGenerator(ctx context.Context, cfg *config.Config) (generation.Generator, error) {
	prompter := contentgen.NewPrompter()
	var chain contentgen.Fallback
	if cfg.OpenAI.Enabled {
		chain = append(chain, contentgen.NewOpenAIGenerator(openai.NewClient(cfg.OpenAI.APIKey), cfg.OpenAI.Model, prompter))
	}
	if cfg.Bedrock.Enabled {
		bedrock, err := contentgen.NewBedrockGenerator(ctx, cfg.Bedrock, prompter)
		if err != nil {
			return nil, err
		}
		chain = append(chain, bedrock)
	}
	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("no content generator enabled: set openai.enabled or bedrock.enabled")
	case 1:
		return chain[0], nil
	}
	return chain, nil
}

func buildClassifier(cfg *config.Config) reconcile.Classifier {
	if cfg.OpenAI.Enabled {
		return contentgen.NewOpenAIClassifier(openai.NewClient(cfg.OpenAI.APIKey), cfg.OpenAI.ClassifierModel)
	}
	return contentgen.KeywordClassifier{}
}

func buildTransports(ctx context.Context, cfg *config.Config) (*sending.Registry, error) {
	registry := sending.NewRegistry(domain.ProviderSmartlead)
	registry.Register(domain.ProviderSmartlead, smartlead.NewClient(cfg.Smartlead))
	if cfg.SES.Enabled {
		t, err := ses.NewTransport(ctx, cfg.SES)
		if err != nil {
			return nil, err
		}
		registry.Register(domain.ProviderSES, t)
	}
	return registry, nil
}
