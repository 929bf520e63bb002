package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/failover"
	healthcheck "github.com/Cal9233/genthrust-repairs/internal/health"
	"github.com/Cal9233/genthrust-repairs/internal/messaging/kafka"
	"github.com/Cal9233/genthrust-repairs/internal/metrics"
	"github.com/Cal9233/genthrust-repairs/internal/retry"
	"github.com/Cal9233/genthrust-repairs/internal/service/monitor"
	"github.com/Cal9233/genthrust-repairs/internal/storage/relational"
	"github.com/Cal9233/genthrust-repairs/internal/version"
	"github.com/Cal9233/genthrust-repairs/internal/workbook"
)

// Dependencies — собранный граф компонентов сервиса без сетевых серверов.
type Dependencies struct {
	Service  *failover.Service
	Arbiter  *failover.Arbiter
	Health   *healthcheck.Handler
	Monitor  *monitor.Monitor
	Notifier *kafka.Notifier

	Relational *relational.Repository
	Workbook   *workbook.Repository

	FailoverMetrics *metrics.FailoverMetrics
	SessionMetrics  *metrics.SessionMetrics

	producer *kafka.Producer
	logger   *log.Entry
}

// NewDependencies собирает компоненты по конфигурации. registerer == nil —
// registry по умолчанию. sinks получают результаты проб бэкендов.
func NewDependencies(ctx context.Context, cfg Config, registerer prometheus.Registerer, logger *log.Entry, sinks ...monitor.StatusSink) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dependencies{
		FailoverMetrics: metrics.NewFailoverMetrics(registerer),
		SessionMetrics:  metrics.NewSessionMetrics(registerer),
		logger:          logger,
	}

	d.Relational = newRelationalRepository(cfg, d.SessionMetrics, logger)
	d.Workbook = newWorkbookRepository(ctx, cfg, d.SessionMetrics, logger)

	observers := []failover.Observer{d.FailoverMetrics}
	var events failover.EventPublisher
	producer, err := initKafkaProducer(cfg.Kafka, logger)
	if err == nil && producer != nil {
		d.producer = producer
		d.Notifier = kafka.NewNotifier(producer, kafka.WithNotifierLogger(logger.WithField("layer", "kafka")))
		observers = append(observers, d.Notifier)
		events = d.Notifier
	}

	d.Arbiter = failover.NewArbiter(
		failover.WithRetryInterval(cfg.FailoverRetryInterval),
		failover.WithLogger(logger.WithField("layer", "failover")),
		failover.WithObserver(observers...),
	)
	serviceOpts := []failover.ServiceOption{failover.WithServiceLogger(logger.WithField("layer", "service"))}
	if events != nil {
		serviceOpts = append(serviceOpts, failover.WithEvents(events))
	}
	d.Service = failover.NewService(d.Arbiter, d.Relational, d.Workbook, serviceOpts...)

	relationalCheck := healthcheck.NewBackendChecker(string(domain.BackendRelational), false)
	workbookCheck := healthcheck.NewBackendChecker(string(domain.BackendWorkbook), false)
	d.Health = healthcheck.NewHandler(version.Number())
	d.Health.RegisterChecker(string(domain.BackendRelational), relationalCheck)
	d.Health.RegisterChecker(string(domain.BackendWorkbook), workbookCheck)
	d.Health.RegisterChecker("mode", healthcheck.NewModeChecker("mode", d.Arbiter.InFallbackMode))
	d.Health.RegisterChecker("backends", healthcheck.NewSimpleChecker("backends", func() error {
		if relationalCheck.Check().Status == healthcheck.StatusUnhealthy &&
			workbookCheck.Check().Status == healthcheck.StatusUnhealthy {
			return domain.ErrBothBackendsFailed
		}
		return nil
	}))

	statusSinks := append([]monitor.StatusSink{d.FailoverMetrics}, sinks...)
	d.Monitor = monitor.New([]monitor.Target{
		{Backend: domain.BackendRelational, Prober: d.Relational, Checker: relationalCheck},
		{Backend: domain.BackendWorkbook, Prober: d.Workbook, Checker: workbookCheck},
	},
		monitor.WithLogger(logger.WithField("layer", "monitor")),
		monitor.WithInterval(cfg.MonitorInterval),
		monitor.WithStatusSink(statusSinks...),
		monitor.WithMode(d.Arbiter.InFallbackMode, d.FailoverMetrics),
	)

	return d, nil
}

// Close освобождает внешние ресурсы.
func (d *Dependencies) Close() {
	closeKafka(d.producer, d.logger)
}

func newRelationalRepository(cfg Config, sessionMetrics *metrics.SessionMetrics, logger *log.Entry) *relational.Repository {
	entry := logger.WithField("backend", domain.BackendRelational)
	clientOpts := []relational.ClientOption{
		relational.WithHTTPClient(&http.Client{Timeout: cfg.Relational.Timeout}),
		relational.WithClientLogger(entry),
	}
	if cfg.Relational.Token != "" {
		clientOpts = append(clientOpts, relational.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Relational.Token})))
	}

	policyCfg := cfg.Retry.Policy()
	policyCfg.MaxAttempts = cfg.Relational.MaxAttempts
	policy := retry.New(policyCfg,
		retry.WithBackend(domain.BackendRelational),
		retry.WithLogger(entry),
		retry.WithRetryHook(sessionMetrics.RetryHook(domain.BackendRelational)),
	)
	return relational.NewRepository(relational.NewClient(cfg.Relational.BaseURL, clientOpts...),
		relational.WithRetryPolicy(policy),
		relational.WithRepositoryLogger(entry),
	)
}

func newWorkbookRepository(ctx context.Context, cfg Config, sessionMetrics *metrics.SessionMetrics, logger *log.Entry) *workbook.Repository {
	entry := logger.WithField("backend", domain.BackendWorkbook)
	clientOpts := []workbook.ClientOption{
		workbook.WithHTTPClient(&http.Client{Timeout: cfg.Workbook.Timeout}),
		workbook.WithClientLogger(entry),
	}
	if ts := workbookTokenSource(ctx, cfg); ts != nil {
		clientOpts = append(clientOpts, workbook.WithTokenSource(ts))
	}
	client := workbook.NewClient(cfg.Workbook.BaseURL, cfg.Workbook.Table, clientOpts...)

	policy := retry.New(cfg.Retry.Policy(),
		retry.WithBackend(domain.BackendWorkbook),
		retry.WithLogger(entry),
		retry.WithRetryHook(sessionMetrics.RetryHook(domain.BackendWorkbook)),
	)
	sessions := workbook.NewSessionManager(client, policy,
		workbook.WithSessionTTL(cfg.Workbook.SessionTTL),
		workbook.WithPersistChanges(cfg.Workbook.PersistChanges),
		workbook.WithSessionLogger(entry),
		workbook.WithSessionObserver(sessionMetrics),
	)
	return workbook.NewRepository(client, sessions, workbook.WithRepositoryLogger(entry))
}

// workbookTokenSource: client credentials, иначе статический токен, иначе без авторизации.
func workbookTokenSource(ctx context.Context, cfg Config) oauth2.TokenSource {
	if cfg.OAuth.Enabled() {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		return cc.TokenSource(context.WithoutCancel(ctx))
	}
	if cfg.Workbook.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Workbook.Token})
	}
	return nil
}
