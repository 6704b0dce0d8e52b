package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paycore/config"
	"paycore/internal/database"
	"paycore/internal/idempotency"
	"paycore/internal/middleware"
	"paycore/internal/repository"
	"paycore/internal/router"
	"paycore/internal/service"
	"paycore/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	log := logger.Must(cfg.Server.Env)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	if n, err := database.SeedReferralLevels(db, cfg.Referral.Levels); err != nil {
		log.Fatal("seed referral levels", zap.Error(err))
	} else if n > 0 {
		log.Info("referral levels seeded", zap.Int("levels", n))
	}

	idem, closeIdem, err := idempotency.Open(ctx, cfg.Idempotency, cfg.Redis, db)
	if err != nil {
		log.Fatal("idempotency store", zap.Error(err))
	}
	defer closeIdem()
	log.Info("idempotency store ready", zap.String("backend", cfg.Idempotency.Backend), zap.Duration("ttl", cfg.Idempotency.TTL))

	fcm := service.NewFCMService(ctx, cfg.Firebase.ServiceAccountPath, log)
	var pusher service.Pusher
	if fcm != nil {
		pusher = fcm
	}
	notifier := service.NewNotificationService(repository.NewNotificationRepository(db), pusher, log)

	gateways := service.NewGatewayRegistry(cfg.Gateways, log)
	payments := service.NewPaymentService(db, idem, gateways, notifier, cfg.Gateways, log)
	worker := service.NewCommissionWorker(db, service.NewCommissionService(db, log), cfg.Commission, log)
	payments.OnCommissionQueued(worker.Wake)
	reconciler := service.NewReconciler(db, gateways, payments, cfg.Reconciliation, log)

	limiter := middleware.NewKeyedRateLimiter(cfg.RateLimit.WebhookPerSecond, cfg.RateLimit.WebhookBurst, 10*time.Minute)
	engine := router.Setup(cfg, db, router.Services{
		Payments:    payments,
		Sponsorship: service.NewSponsorshipService(db, cfg.Referral, log),
		Payouts:     service.NewPayoutService(db, log),
		Reconciler:  reconciler,
		Commissions: worker,
	}, limiter, log)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		limiter.Cleanup(gctx.Done())
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
