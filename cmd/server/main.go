// main wires the attendance integrity core: stores, the audit ledger, the
// domain services, the HTTP router, and the background verifier. Business
// logic lives in the internal service packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"smartattend/internal/attendance"
	attendancestore "smartattend/internal/attendance/store"
	"smartattend/internal/catalog"
	catalogstore "smartattend/internal/catalog/store"
	"smartattend/internal/escalation"
	"smartattend/internal/escalation/sessions"
	escalationstore "smartattend/internal/escalation/store"
	"smartattend/internal/ledger"
	ledgerstore "smartattend/internal/ledger/store"
	"smartattend/internal/platform/config"
	"smartattend/internal/platform/httpserver"
	"smartattend/internal/platform/logger"
	"smartattend/internal/platform/postgres"
	platformredis "smartattend/internal/platform/redis"
	"smartattend/internal/timeauthority"
	timestore "smartattend/internal/timeauthority/store"
	httptransport "smartattend/internal/transport/http"
	"smartattend/internal/verifier"
	"smartattend/pkg/platform/middleware/auth"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		ledgerStore     ledger.Store
		catalogStore    catalog.Store
		attendanceStore attendance.Store
		timeStore       timeauthority.Store
		escStore        escalation.Store
	)
	if db != nil {
		ledgerStore = ledgerstore.NewPostgres(db)
		catalogStore = catalogstore.NewPostgres(db)
		attendanceStore = attendancestore.NewPostgres(db)
		timeStore = timestore.NewPostgres(db)
		escStore = escalationstore.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		ledgerStore = ledgerstore.NewInMemory()
		catalogStore = catalogstore.NewInMemory()
		attendanceStore = attendancestore.NewInMemory()
		timeStore = timestore.NewInMemory()
		escStore = escalationstore.NewInMemory()
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	var invalidator escalation.Sessions
	if redisClient != nil {
		invalidator = sessions.NewRedis(redisClient.Client)
	} else {
		invalidator = sessions.NewMemory()
		log.Warn("no redis URL configured, session invalidation is process-local")
	}

	ledgerSvc, err := ledger.New(ledgerStore,
		ledger.WithLogger(log),
		ledger.WithMetrics(ledger.NewMetrics()),
	)
	if err != nil {
		return err
	}
	catalogSvc, err := catalog.New(ctx, catalogStore, ledgerSvc, catalog.WithLogger(log))
	if err != nil {
		return err
	}
	attendanceSvc, err := attendance.New(attendanceStore, ledgerSvc, catalogSvc,
		attendance.WithLogger(log),
		attendance.WithMetrics(attendance.NewMetrics()),
		attendance.WithStoreTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		return err
	}
	timeSvc, err := timeauthority.New(timeStore, ledgerSvc, catalogSvc,
		timeauthority.WithLogger(log),
		timeauthority.WithMetrics(timeauthority.NewMetrics()),
	)
	if err != nil {
		return err
	}
	escMetrics := escalation.NewMetrics()
	escSvc, err := escalation.New(escStore, ledgerSvc, catalogSvc,
		escalation.WithLogger(log),
		escalation.WithMetrics(escMetrics),
		escalation.WithSessions(invalidator),
	)
	if err != nil {
		return err
	}

	health := map[string]httptransport.HealthChecker{}
	if db != nil {
		health["postgres"] = db.PingContext
	}
	if redisClient != nil {
		health["redis"] = redisClient.Health
	}

	router := httptransport.NewRouter(httptransport.Services{
		Attendance: attendanceSvc,
		Time:       timeSvc,
		Escalation: escSvc,
		Ledger:     ledgerSvc,
	}, auth.NewValidator(cfg.JWTSigningKey), log, health)

	srv := httpserver.New(cfg.Addr, router, cfg.HTTP)

	worker := verifier.New(ledgerSvc, escStore, catalogSvc,
		verifier.WithLogger(log),
		verifier.WithMetrics(escMetrics),
		verifier.WithInterval(cfg.Verifier.Interval),
		verifier.WithSampleSize(cfg.Verifier.SampleSize),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting smartattend", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
