package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	attestorHandler "trustcore/internal/attestor/handler"
	attestorMetrics "trustcore/internal/attestor/metrics"
	attestorService "trustcore/internal/attestor/service"
	attestorStore "trustcore/internal/attestor/store"
	"trustcore/internal/authz"
	"trustcore/internal/fees"
	feesHandler "trustcore/internal/fees/handler"
	ledgerHandler "trustcore/internal/ledger/handler"
	ledgerMetrics "trustcore/internal/ledger/metrics"
	ledgerService "trustcore/internal/ledger/service"
	ledgerStore "trustcore/internal/ledger/store"
	"trustcore/internal/platform/config"
	"trustcore/internal/platform/httpserver"
	"trustcore/internal/platform/kafka"
	"trustcore/internal/platform/logger"
	"trustcore/internal/platform/metrics"
	"trustcore/internal/platform/postgres"
	"trustcore/internal/platform/redis"
	"trustcore/internal/policy"
	policyHandler "trustcore/internal/policy/handler"
	"trustcore/internal/protection"
	protectionHandler "trustcore/internal/protection/handler"
	ratelimitMetrics "trustcore/internal/ratelimit/metrics"
	ratelimit "trustcore/internal/ratelimit/middleware"
	ratelimitModels "trustcore/internal/ratelimit/models"
	"trustcore/internal/ratelimit/store/bucket"
	settlementHandler "trustcore/internal/settlement/handler"
	settlementMetrics "trustcore/internal/settlement/metrics"
	settlementService "trustcore/internal/settlement/service"
	settlementStore "trustcore/internal/settlement/store"
	"trustcore/internal/tokenization"
	tokenizationHandler "trustcore/internal/tokenization/handler"
	httptransport "trustcore/internal/transport/http"
	verificationHandler "trustcore/internal/verification/handler"
	verificationMetrics "trustcore/internal/verification/metrics"
	verificationService "trustcore/internal/verification/service"
	verificationStore "trustcore/internal/verification/store"
	id "trustcore/pkg/domain"
	audit "trustcore/pkg/platform/audit"
	auditpublisher "trustcore/pkg/platform/audit/publisher"
	auditmemory "trustcore/pkg/platform/audit/store/memory"
	auditpostgres "trustcore/pkg/platform/audit/store/postgres"
	"trustcore/pkg/platform/circuit"
	txcontext "trustcore/pkg/platform/tx"
)

const (
	shutdownTimeout   = 10 * time.Second
	eventBufferSize   = 1024
	eventFlushEvery   = 15 * time.Second
	topicPartitions   = 3
	topicReplication  = 1
	startupDeadline   = 30 * time.Second
	defaultReqTimeout = 30 * time.Second
)

// main wires configuration, infrastructure and the bounded contexts, then
// serves HTTP until SIGINT/SIGTERM. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

type infrastructure struct {
	db         *sql.DB
	redis      *redis.Client
	eventStore audit.Store
	sinks      []audit.Sink
	kafkaSink  *kafka.Sink
	closers    []func()
	health     map[string]httptransport.HealthCheck
}

func (i *infrastructure) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	platformMetrics := metrics.New(reg)

	startCtx, cancel := context.WithTimeout(ctx, startupDeadline)
	infra, err := openInfrastructure(startCtx, cfg, log, platformMetrics)
	cancel()
	if err != nil {
		return err
	}
	defer infra.close()

	events := auditpublisher.NewPublisher(infra.eventStore,
		auditpublisher.WithAsyncBuffer(eventBufferSize),
		auditpublisher.WithSinks(infra.sinks...),
		auditpublisher.WithLogger(log),
	)
	defer events.Close()

	roles, err := seedRoles(cfg.Auth.Grants)
	if err != nil {
		return err
	}
	authorizer := authz.Any{roles, authz.ContextGrants{}}
	tokens := authz.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)

	var (
		attestorStoreImpl     attestorService.Store     = attestorStore.NewInMemoryStore()
		verificationStoreImpl verificationService.Store = verificationStore.NewInMemoryStore()
		settlementStoreImpl   settlementService.Store   = settlementStore.NewInMemoryStore()
		ledgerStoreImpl       ledgerStore.Store         = ledgerStore.NewInMemoryStore(cfg.Protocol.MaxTokenSupply)
		feeStore              fees.Store                = fees.NewInMemoryStore()
		protectionStore       protection.Store          = protection.NewInMemoryStore()
		catalogStore          tokenization.Store        = tokenization.NewInMemoryStore()
		transactor            txcontext.Runner          = txcontext.NewMemory()
	)
	if infra.db != nil {
		attestorStoreImpl = attestorStore.NewPostgres(infra.db)
		verificationStoreImpl = verificationStore.NewPostgres(infra.db)
		settlementStoreImpl = settlementStore.NewPostgres(infra.db)
		ledgerStoreImpl = ledgerStore.NewPostgresStore(infra.db, cfg.Protocol.MaxTokenSupply)
		feeStore = fees.NewPostgresStore(infra.db)
		protectionStore = protection.NewPostgresStore(infra.db)
		catalogStore = tokenization.NewPostgresStore(infra.db)
		transactor = postgres.NewTransactor(infra.db, cfg.Postgres.TxTimeout)
	}
	var policyStore policy.Store = policy.NewInMemoryStore()
	if infra.redis != nil {
		policyStore = policy.NewRedisStore(infra.redis.Client)
	}

	ledger := ledgerService.New(
		ledgerStoreImpl,
		authorizer,
		ledgerService.WithLogger(log),
		ledgerService.WithMetrics(ledgerMetrics.New(reg)),
		ledgerService.WithAuditPublisher(events),
	)

	// The distributor and the registry reference each other: slashed stake
	// funds insurance, and active attestors share the validator pool.
	var attestors *attestorService.Service
	distributor := fees.NewService(feeStore,
		fees.ValidatorSetFunc(func(ctx context.Context) ([]id.AccountID, error) {
			return attestors.ActiveIDs(ctx)
		}),
		fees.WithLogger(log),
		fees.WithMetrics(fees.NewMetrics(reg)),
		fees.WithAuditPublisher(events),
	)
	attestors = attestorService.New(attestorStoreImpl, authorizer, cfg.Protocol.MinAttestorStake,
		attestorService.WithLogger(log),
		attestorService.WithMetrics(attestorMetrics.New(reg)),
		attestorService.WithAuditPublisher(events),
		attestorService.WithInsurancePool(distributor),
		attestorService.WithTransactor(transactor),
	)

	policies := policy.NewService(policyStore, authorizer,
		policy.WithLogger(log),
		policy.WithAuditPublisher(events),
	)
	verifications := verificationService.New(verificationStoreImpl, policies, attestors, authorizer,
		verificationService.WithLogger(log),
		verificationService.WithMetrics(verificationMetrics.New(reg)),
		verificationService.WithAuditPublisher(events),
	)
	buffer := protection.NewService(protectionStore, authorizer,
		protection.WithLogger(log),
		protection.WithAuditPublisher(events),
	)
	gate := tokenization.NewService(catalogStore, verifications, authorizer, id.BasisPoints(cfg.Protocol.TokenizationFeeBP),
		tokenization.WithLogger(log),
		tokenization.WithMetrics(tokenization.NewMetrics(reg)),
		tokenization.WithAuditPublisher(events),
		tokenization.WithFeeCollector(distributor),
		tokenization.WithProtection(buffer),
		tokenization.WithTransactor(transactor),
	)
	settlements := settlementService.New(settlementStoreImpl, authorizer, id.BasisPoints(cfg.Protocol.SettlementFeeBP),
		settlementService.WithLogger(log),
		settlementService.WithMetrics(settlementMetrics.New(reg)),
		settlementService.WithAuditPublisher(events),
		settlementService.WithFeeCollector(distributor),
		settlementService.WithTransactor(transactor),
	)

	limiter := newRateLimiter(cfg.Limits, infra, log, reg)

	router := httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        platformMetrics,
		Gatherer:       reg,
		Tokens:         tokens,
		RequestTimeout: defaultReqTimeout,
		HealthChecks:   infra.health,
		RateLimit:      limiter.Handler,
	},
		ledgerHandler.New(ledger, log),
		attestorHandler.New(attestors, log),
		policyHandler.New(policies, log),
		verificationHandler.New(verifications, log),
		tokenizationHandler.New(gate, log),
		settlementHandler.New(settlements, log),
		feesHandler.New(distributor, log),
		protectionHandler.New(buffer, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting trustcore", "addr", cfg.Addr, "env", cfg.Environment,
			"postgres", infra.db != nil, "redis", infra.redis != nil, "kafka", infra.kafkaSink != nil)
		return httpserver.Run(gctx, srv, shutdownTimeout)
	})
	if infra.kafkaSink != nil {
		g.Go(func() error {
			replayEvents(gctx, infra.kafkaSink, log)
			return nil
		})
	}
	return g.Wait()
}

func openInfrastructure(ctx context.Context, cfg config.Server, log *slog.Logger, m *metrics.Metrics) (*infrastructure, error) {
	infra := &infrastructure{
		eventStore: auditmemory.NewInMemoryStore(),
		health:     map[string]httptransport.HealthCheck{},
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		infra.closers = append(infra.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			infra.close()
			return nil, err
		}
		infra.db = db
		infra.eventStore = auditpostgres.New(db)
		infra.health["postgres"] = db.PingContext
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		infra.close()
		return nil, err
	}
	if redisClient != nil {
		infra.closers = append(infra.closers, func() { _ = redisClient.Close() })
		infra.redis = redisClient
		infra.health["redis"] = redisClient.Health
	}

	kafkaClient, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		infra.close()
		return nil, err
	}
	if kafkaClient != nil {
		infra.closers = append(infra.closers, kafkaClient.Close)
		if err := kafka.EnsureTopic(ctx, kafkaClient, cfg.Kafka.Topic, topicPartitions, topicReplication); err != nil {
			// Brokers with auto-creation still accept produces.
			log.WarnContext(ctx, "event topic not ensured", "topic", cfg.Kafka.Topic, "error", err)
		}
		sink := kafka.NewSink(kafkaClient, cfg.Kafka.Topic,
			kafka.WithLogger(log),
			kafka.WithMetrics(m),
			kafka.WithBufferSize(cfg.Kafka.BufferSize),
			kafka.WithBreaker(circuit.New("kafka-events", circuit.WithFailureThreshold(cfg.Kafka.FailureThreshold))),
		)
		infra.kafkaSink = sink
		infra.sinks = append(infra.sinks, sink)
		infra.health["kafka"] = kafkaClient.Ping
	}
	return infra, nil
}

// replayEvents periodically drains events buffered while the stream was
// unavailable, so replay does not wait for the next emitted event.
func replayEvents(ctx context.Context, sink *kafka.Sink, log *slog.Logger) {
	ticker := time.NewTicker(eventFlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := sink.Flush(flushCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				log.Warn("final event replay incomplete", "error", err, "pending", sink.Pending())
			}
			cancel()
			return
		case <-ticker.C:
			if sink.Pending() == 0 {
				continue
			}
			if err := sink.Flush(ctx); err != nil {
				log.WarnContext(ctx, "event replay failed", "error", err, "pending", sink.Pending())
			}
		}
	}
}

func seedRoles(grants map[string][]string) (*authz.RoleTable, error) {
	roles := authz.NewRoleTable()
	for rawAccount, rawCaps := range grants {
		account, err := id.ParseAccountID(rawAccount)
		if err != nil {
			return nil, err
		}
		caps := make([]authz.Capability, 0, len(rawCaps))
		for _, raw := range rawCaps {
			c, err := authz.ParseCapability(raw)
			if err != nil {
				return nil, err
			}
			caps = append(caps, c)
		}
		roles.Grant(account, caps...)
	}
	return roles, nil
}

// newRateLimiter shares buckets through Redis when configured, falling back
// to process-local windows while Redis is unreachable.
func newRateLimiter(cfg config.RateLimitConfig, infra *infrastructure, log *slog.Logger, reg prometheus.Registerer) *ratelimit.Middleware {
	limits := map[ratelimitModels.EndpointClass]ratelimitModels.Limit{
		ratelimitModels.ClassRead:  {RequestsPerWindow: cfg.ReadPerWindow, Window: cfg.Window},
		ratelimitModels.ClassWrite: {RequestsPerWindow: cfg.WritePerWindow, Window: cfg.Window},
	}
	opts := []ratelimit.Option{
		ratelimit.WithDisabled(cfg.Disabled),
		ratelimit.WithMetrics(ratelimitMetrics.New(reg)),
	}
	if infra.redis == nil {
		return ratelimit.New(bucket.NewInMemoryBucketStore(), limits, log, opts...)
	}
	opts = append(opts, ratelimit.WithFallback(
		bucket.NewInMemoryBucketStore(),
		circuit.New("ratelimit-redis", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(3)),
	))
	return ratelimit.New(bucket.NewRedisBucketStore(infra.redis.Client), limits, log, opts...)
}
