package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/investledger/internal/ledger/application"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/internal/ledger/infrastructure/messaging"
	"github.com/wyfcoding/investledger/internal/ledger/infrastructure/persistence"
	"github.com/wyfcoding/investledger/internal/ledger/infrastructure/persistence/mysql"
	"github.com/wyfcoding/investledger/internal/ledger/infrastructure/persistence/redis"
	"github.com/wyfcoding/investledger/internal/ledger/interfaces/consumer"
	grpcserver "github.com/wyfcoding/investledger/internal/ledger/interfaces/grpc"
	httpserver "github.com/wyfcoding/investledger/internal/ledger/interfaces/http"
	"github.com/wyfcoding/investledger/internal/ledger/interfaces/job"
	"github.com/wyfcoding/investledger/pkg/cache"
	"github.com/wyfcoding/investledger/pkg/config"
	"github.com/wyfcoding/investledger/pkg/db"
	"github.com/wyfcoding/investledger/pkg/logger"
	"github.com/wyfcoding/investledger/pkg/metrics"
	"github.com/wyfcoding/investledger/pkg/middleware"
	"github.com/wyfcoding/investledger/pkg/mq"
	"github.com/wyfcoding/investledger/pkg/ratelimit"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/ledger/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.Init(cfg.Logger, cfg.Server.Name)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	if err := run(cfg, log); err != nil {
		log.Error("ledger exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化指标
	m := metrics.New(cfg.Server.Name)

	// 4. 初始化基础设施
	database, err := db.Init(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Database.AutoMigrate || cfg.Server.Environment == "dev" {
		if err := mysql.AutoMigrate(database.DB, cfg.Ledger.BarrierTable); err != nil {
			return err
		}
	}

	store := mysql.NewStore(database.DB, database.Driver(), cfg.Ledger.BarrierTable)
	checks := []grpcserver.Check{{Name: "database", Ping: database.Ping}}

	var (
		redisCache   *cache.RedisCache
		profileCache domain.ProfileCache
		runLock      domain.RunLock
		limiter      ratelimit.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisCache.Close()

		profileCache = redis.NewProfileCache(redisCache, cfg.Redis.ProfileTTL)
		store.Profiles = persistence.NewCompositeProfileRepository(store.Profiles, profileCache, log)
		runLock = redis.NewRunLock(redisCache, log)
		checks = append(checks, grpcserver.Check{Name: "redis", Ping: redisCache.Ping})
	}

	if cfg.RateLimit.Enabled {
		// Redis 故障时退化为进程内限流，提现不会因此失去约束
		local := ratelimit.NewLocalLimiter()
		limiter = local
		if redisCache != nil {
			limiter = ratelimit.NewFallback(ratelimit.NewRedisLimiter(redisCache.Client()), local,
				func(ctx context.Context, key string, err error) {
					log.WarnContext(ctx, "redis rate limiter unavailable, using local buckets", "key", key, "error", err)
				})
		}
	}
	limits := map[ratelimit.Scope]ratelimit.Limit{
		ratelimit.ScopeWithdraw: ratelimit.PerMinute(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		ratelimit.ScopeInvest:   ratelimit.PerMinute(cfg.RateLimit.InvestPerMinute, cfg.RateLimit.InvestBurst),
	}

	var (
		producer  *mq.KafkaProducer
		publisher domain.EventPublisher
		sender    messaging.Sender
	)
	if cfg.Kafka.Enabled {
		producer = mq.NewProducer(cfg.Kafka)
		defer producer.Close()
		sender = producer

		if cfg.Database.AutoMigrate || cfg.Server.Environment == "dev" {
			if err := messaging.MigrateOutbox(database.DB); err != nil {
				return err
			}
		}
		outboxMgr := outbox.NewManager(database.DB, log)
		publisher = messaging.NewOutboxEventPublisher(database.DB, outboxMgr, cfg.Kafka.EventsTopic)

		// 业务事务只写 outbox 表，relay 在提交后异步投递到 Kafka
		relay := messaging.NewOutboxRelay(outboxMgr, producer.Push, cfg.Kafka.OutboxBatchSize, cfg.Kafka.OutboxInterval)
		relay.Start()
		defer relay.Stop()
	}
	alerter := messaging.NewAlerter(log, m, sender, cfg.Kafka.AlertsTopic)

	// 5. 初始化应用服务
	bonus, err := cfg.Ledger.ReferralBonusAmount()
	if err != nil {
		return err
	}
	location, err := cfg.Ledger.Accrual.Location()
	if err != nil {
		return err
	}
	opts := application.DefaultOptions()
	opts.StepTimeout = cfg.Ledger.StepTimeout
	opts.ReferralBonus = bonus
	opts.AccrualBatchSize = cfg.Ledger.Accrual.BatchSize
	opts.AccrualLockTTL = cfg.Ledger.Accrual.LockTTL
	opts.RecoveryStaleAfter = cfg.Ledger.Recovery.StaleAfter
	opts.RecoveryBatchSize = cfg.Ledger.Recovery.BatchSize

	rt := application.NewRuntime(store, opts, log, alerter, publisher, m)
	referrals := application.NewReferralEngine(rt)
	dispatcher := application.NewEventDispatcher(rt)
	dispatcher.Subscribe("referral", referrals)
	approvals := application.NewApprovalService(rt, dispatcher)
	withdrawals := application.NewWithdrawalService(rt)
	accrual := application.NewAccrualJob(rt, runLock)
	recovery := application.NewRecoveryService(rt, approvals, withdrawals)

	// 6. 初始化接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRequestContext(),
		middleware.GinRecovery(),
		middleware.GinLogging(),
		middleware.GinMetrics(m),
	)
	httpserver.NewLedgerHandler(httpserver.Services{
		Profiles:    application.NewProfileService(rt),
		Approvals:   approvals,
		Referrals:   referrals,
		Withdrawals: withdrawals,
		Accrual:     accrual,
		Recovery:    recovery,
		Query:       application.NewQueryService(rt),
	}, location, limiter, limits).RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	grpcSrv := grpcserver.NewServer(log, checks...)

	jobCfg := job.Config{Location: location}
	if cfg.Ledger.Accrual.Enabled {
		jobCfg.AccrualSchedule = cfg.Ledger.Accrual.Schedule
	}
	if cfg.Ledger.Recovery.Enabled {
		jobCfg.RecoverySchedule = cfg.Ledger.Recovery.Schedule
	}
	scheduler, err := job.NewScheduler(jobCfg, accrual, recovery, log)
	if err != nil {
		return err
	}

	// 7. 启动服务
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
		if err != nil {
			return err
		}
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		return grpcSrv.WatchHealth(gctx, 15*time.Second)
	})

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	if cfg.Metrics.Enabled {
		metricsSrv := m.NewServer(cfg.Metrics.Port, cfg.Metrics.Path)
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return metricsSrv.Close()
		})
	}

	if cfg.Kafka.Enabled && profileCache != nil {
		eventsConsumer := mq.NewConsumer(cfg.Kafka, cfg.Kafka.EventsTopic)
		projection := consumer.NewLedgerProjectionHandler(profileCache, log)
		g.Go(func() error {
			defer eventsConsumer.Close()
			return eventsConsumer.Consume(gctx, projection.Handle)
		})
	}

	// 8. 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcSrv.Stop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
