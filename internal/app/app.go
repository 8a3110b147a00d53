// Package app wires the repositories, services and workers shared by the
// server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/fan-automation/internal/config"
	"github.com/ignite/fan-automation/internal/delivery"
	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/export"
	"github.com/ignite/fan-automation/internal/pipeline"
	"github.com/ignite/fan-automation/internal/pkg/distlock"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/repository/memory"
	"github.com/ignite/fan-automation/internal/repository/postgres"
	"github.com/ignite/fan-automation/internal/service/decision"
	"github.com/ignite/fan-automation/internal/service/eventlog"
	"github.com/ignite/fan-automation/internal/service/identity"
	"github.com/ignite/fan-automation/internal/service/scheduler"
	"github.com/ignite/fan-automation/internal/service/suppression"
	"github.com/ignite/fan-automation/internal/service/variant"
	"github.com/ignite/fan-automation/internal/storage"
	"github.com/ignite/fan-automation/internal/worker"
)

// identityLockTTL bounds how long a crashed holder can block one visitor.
const identityLockTTL = 5 * time.Second

// App holds the wired components.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client

	Events       *eventlog.Service
	Identities   *identity.Service
	Suppressions *suppression.Service
	Variants     *variant.Service
	Decisions    *decision.Service
	Scheduler    *scheduler.Service
	Pipeline     *pipeline.Handler

	Queue    worker.DueQueue
	Runner   *worker.ActionRunner
	Recovery *worker.QueueRecoveryWorker

	EventRecovery *worker.EventRecoveryWorker
}

type repositories struct {
	events       eventlog.Repository
	identities   identity.Repository
	suppressions suppression.Repository
	variants     variant.Repository
	actions      scheduler.Repository
}

// ConfigureLogging applies the log section to the default logger.
func ConfigureLogging(cfg config.LogConfig) {
	if cfg.Console {
		logger.SetConsole()
	}
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.RedactPII)
}

// New connects the configured backends and wires every service. The event
// log starts without a notifier; binaries attach one with SetNotifier.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	repos, err := a.openRepositories(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("app: redis connected", "addr", cfg.Redis.Addr)
	}

	deliverer, err := newDeliverer(ctx, cfg, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Identities = identity.NewService(repos.identities, distlock.NewKeyLocker(a.Redis, a.DB, identityLockTTL))
	a.Suppressions = suppression.NewService(repos.suppressions)
	a.Variants = variant.NewService(repos.variants, cfg.Experiments.CacheSize)
	a.Decisions = decision.NewService(
		a.Identities,
		decision.NewStaticCatalog(cfg.Subjects, decision.DefaultCapabilities()),
		a.Variants,
		decision.Experiment{Key: cfg.Experiments.CTACopyKey, Variants: cfg.Experiments.Variants},
	)
	a.Scheduler = scheduler.NewService(repos.actions, a.Identities, a.Suppressions, deliverer, schedulerConfig(cfg.Automation))
	a.Pipeline = pipeline.NewHandler(a.Identities, a.Suppressions, a.Scheduler)
	a.Events = eventlog.NewService(repos.events, nil)
	a.Pipeline.SetCheckpointer(a.Events)
	a.EventRecovery = worker.NewEventRecoveryWorker(a.Events, worker.EventRecoveryConfig{
		Interval:        cfg.Events.RecoveryInterval(),
		Grace:           cfg.Events.RedeliverAfter(),
		MaxRedeliveries: cfg.Events.MaxRedeliveries,
	})

	if a.Redis != nil {
		a.Queue = worker.NewRedisQueue(a.Redis, worker.DefaultQueueKey)
	} else {
		a.Queue = worker.NewMemoryQueue()
	}
	a.Runner = worker.NewActionRunner(a.Queue, a.Scheduler, worker.RunnerConfig{Workers: cfg.Automation.Workers})
	a.Scheduler.SetQueue(a.Runner)
	a.Recovery = worker.NewQueueRecoveryWorker(a.Scheduler, a.Runner, cfg.Automation.RecoveryInterval(), worker.DefaultRecoveryBatch)

	return a, nil
}

func (a *App) openRepositories(ctx context.Context) (repositories, error) {
	switch a.Config.Storage.Type {
	case "memory":
		logger.Warn("app: using in-memory storage, state is lost on restart")
		return repositories{
			events:       memory.NewEventRepo(),
			identities:   memory.NewIdentityRepo(),
			suppressions: memory.NewSuppressionRepo(),
			variants:     memory.NewVariantRepo(),
			actions:      memory.NewActionRepo(),
		}, nil
	case "postgres":
		db, err := OpenDB(ctx, a.Config.Database)
		if err != nil {
			return repositories{}, err
		}
		a.DB = db
		return repositories{
			events:       postgres.NewEventRepo(db),
			identities:   postgres.NewIdentityRepo(db),
			suppressions: postgres.NewSuppressionRepo(db),
			variants:     postgres.NewVariantRepo(db),
			actions:      postgres.NewActionRepo(db),
		}, nil
	default:
		return repositories{}, fmt.Errorf("unknown storage type %q", a.Config.Storage.Type)
	}
}

// OpenDB opens and pings the PostgreSQL pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required for postgres storage")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("app: database connected", "max_open_conns", cfg.MaxOpenConns)
	return db, nil
}

func schedulerConfig(c config.AutomationConfig) scheduler.Config {
	rules := make([]scheduler.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, scheduler.Rule{EventType: r.EventType, ActionType: r.ActionType, Delay: r.Delay()})
	}
	return scheduler.Config{
		Rules:       rules,
		MaxAttempts: c.MaxAttempts,
		BackoffBase: c.BackoffBase(),
		BackoffMax:  c.BackoffMax(),
		Lease:       c.Lease(),
	}
}

// newDeliverer routes every rule's action type to the configured channel.
func newDeliverer(ctx context.Context, cfg *config.Config, rdb *redis.Client) (*delivery.Router, error) {
	templates := delivery.NewTemplateService()
	messages := make(map[string]delivery.Template, len(cfg.Templates))
	for name, t := range cfg.Templates {
		messages[name] = delivery.Template{Subject: t.Subject, HTML: t.HTML, Text: t.Text}
	}

	var sender delivery.Deliverer
	if cfg.Automation.Channel == "email" && cfg.SES.Enabled {
		client, err := delivery.NewSESClient(ctx, cfg.SES.Region, cfg.SES.AccessKey, cfg.SES.SecretKey)
		if err != nil {
			return nil, err
		}
		sender = delivery.NewSESSender(client, templates, messages, cfg.SES.FromEmail, cfg.SES.FromName)
		logger.Info("app: delivering follow-ups via SES", "region", cfg.SES.Region)

		limit := delivery.RateLimit{PerSecond: cfg.SES.MaxPerSecond, PerMinute: cfg.SES.MaxPerMinute, Daily: cfg.SES.DailyQuota}
		if limit.Enabled() {
			if rdb == nil {
				logger.Warn("app: SES send quotas need redis, sending unthrottled")
			} else {
				sender = delivery.NewThrottled(sender, delivery.NewRateLimiter(rdb), "ses", limit)
			}
		}
	} else {
		sender = delivery.NewLogSender(templates, messages)
		logger.Warn("app: no delivery channel configured, follow-ups are only logged")
	}

	router := delivery.NewRouter()
	for _, r := range cfg.Automation.Rules {
		router.Handle(r.ActionType, sender)
	}
	return router, nil
}

// AWSConfig loads the default AWS credential chain for region.
func AWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// SQSClient returns a client for the events queue.
func (a *App) SQSClient(ctx context.Context) (*sqs.Client, error) {
	cfg, err := AWSConfig(ctx, a.Config.Events.SQS.Region)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// S3Client returns a client for the export bucket, or nil when no bucket is
// configured.
func (a *App) S3Client(ctx context.Context) (*s3.Client, error) {
	if a.Config.Export.S3Bucket == "" {
		return nil, nil
	}
	cfg, err := AWSConfig(ctx, a.Config.Export.S3Region)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// Exporter builds the count exporter: S3 (plus DynamoDB rows when a table
// is configured) or local files when no bucket is set.
func (a *App) Exporter(ctx context.Context) (*export.Exporter, error) {
	ec := a.Config.Export
	var sink export.Sink
	if ec.S3Bucket != "" {
		awsCfg, err := AWSConfig(ctx, ec.S3Region)
		if err != nil {
			return nil, err
		}
		var dynamo storage.DynamoAPI
		if ec.DynamoTable != "" {
			dynamo = dynamodb.NewFromConfig(awsCfg)
		}
		sink = storage.NewAWSStorageWithClients(s3.NewFromConfig(awsCfg), dynamo, ec.S3Bucket, ec.DynamoTable)
	} else {
		sink = storage.NewFileStorage(ec.LocalDir)
	}
	return export.NewExporter(a.Events, sink, export.Config{
		Interval: ec.Interval(),
		Bucket:   domain.BucketSize(ec.Bucket),
		Prefix:   ec.Prefix,
	}), nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("app: closing database", "error", err.Error())
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("app: closing redis", "error", err.Error())
		}
	}
}
