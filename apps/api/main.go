package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	activityhandler "github.com/castellan-io/castellan/domains/activity/be/handler"
	activityrepo "github.com/castellan-io/castellan/domains/activity/be/repo"
	activityservice "github.com/castellan-io/castellan/domains/activity/be/service"
	invitationshandler "github.com/castellan-io/castellan/domains/invitations/be/handler"
	invitationsrepo "github.com/castellan-io/castellan/domains/invitations/be/repo"
	invitationsservice "github.com/castellan-io/castellan/domains/invitations/be/service"
	membershipshandler "github.com/castellan-io/castellan/domains/memberships/be/handler"
	membershipsrepo "github.com/castellan-io/castellan/domains/memberships/be/repo"
	membershipsservice "github.com/castellan-io/castellan/domains/memberships/be/service"
	roleshandler "github.com/castellan-io/castellan/domains/roles/be/handler"
	rolesrepo "github.com/castellan-io/castellan/domains/roles/be/repo"
	rolesservice "github.com/castellan-io/castellan/domains/roles/be/service"
	tenantshandler "github.com/castellan-io/castellan/domains/tenants/be/handler"
	tenantsrepo "github.com/castellan-io/castellan/domains/tenants/be/repo"
	tenantsservice "github.com/castellan-io/castellan/domains/tenants/be/service"
	"github.com/castellan-io/castellan/platform/events"
	platformlogging "github.com/castellan-io/castellan/platform/logging"
	platformmiddleware "github.com/castellan-io/castellan/platform/middleware"
	"github.com/castellan-io/castellan/platform/notify"
	"github.com/castellan-io/castellan/platform/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	SweepSchedule   string        `env:"INVITE_SWEEP_SCHEDULE" envDefault:"@hourly"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.Bootstrap(ctx, pool); err != nil {
		logger.Fatal("bootstrap schema", zap.Error(err))
	}

	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	userStore, err := persistence.NewUserStore(pool)
	if err != nil {
		logger.Fatal("init user store", zap.Error(err))
	}
	roleStore, err := persistence.NewRoleStore(pool)
	if err != nil {
		logger.Fatal("init role store", zap.Error(err))
	}
	membershipStore, err := persistence.NewMembershipStore(pool)
	if err != nil {
		logger.Fatal("init membership store", zap.Error(err))
	}
	invitationStore, err := persistence.NewInvitationStore(pool)
	if err != nil {
		logger.Fatal("init invitation store", zap.Error(err))
	}
	activityStore, err := persistence.NewActivityStore(pool)
	if err != nil {
		logger.Fatal("init activity store", zap.Error(err))
	}
	notificationStore, err := persistence.NewNotificationStore(pool)
	if err != nil {
		logger.Fatal("init notification store", zap.Error(err))
	}

	bus := events.NewSyncBus()
	dispatcher := notify.NewLogDispatcher(logger)

	tenantService := tenantsservice.New(tenantsrepo.NewPostgresRepository(tenantStore, notificationStore))
	roleService := rolesservice.New(rolesrepo.NewPostgresRepository(roleStore), bus)
	membershipService := membershipsservice.New(
		membershipsrepo.NewPostgresRepository(membershipStore, roleStore, notificationStore), bus)
	invitationService := invitationsservice.New(
		invitationsrepo.NewPostgresRepository(invitationStore, membershipStore, roleStore, notificationStore), bus)
	activityService := activityservice.New(
		activityrepo.NewPostgresRepository(activityStore, membershipStore), dispatcher, logger)

	// Every committed domain event lands in the activity log and fans out
	// notification requests.
	bus.Subscribe(activityService)

	tenantHTTPHandler := tenantshandler.New(tenantService, logger)
	roleHTTPHandler := roleshandler.New(roleService, logger)
	membershipHTTPHandler := membershipshandler.New(membershipService, logger)
	invitationHTTPHandler := invitationshandler.New(invitationService, logger)
	activityHTTPHandler := activityhandler.New(activityService, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()

	// Public surface: tenant signup and token-addressed invitation acceptance.
	tenantHTTPHandler.RegisterRoutes(apiRouter)
	invitationHTTPHandler.RegisterPublicRoutes(apiRouter)

	// Tenant-scoped surface: authenticated, tenant resolved from the path.
	apiRouter.Route("/t/{tenantSlug}", func(r chi.Router) {
		r.Use(platformmiddleware.BasicAuth(userStore))
		r.Use(platformmiddleware.WithTenantSpace(tenantService))

		membershipHTTPHandler.RegisterSelfRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(platformmiddleware.RequirePermission(membershipService, rolesservice.PermManageRoles))
			roleHTTPHandler.RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(platformmiddleware.RequirePermission(membershipService, rolesservice.PermManageUsers))
			membershipHTTPHandler.RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(platformmiddleware.RequirePermission(membershipService, rolesservice.PermInviteUsers))
			invitationHTTPHandler.RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(platformmiddleware.RequirePermission(membershipService, rolesservice.PermViewActivity))
			activityHTTPHandler.RegisterRoutes(r)
		})
	})

	rootRouter.Mount("/api/v1", apiRouter)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		expired, err := invitationService.SweepExpired(context.Background())
		if err != nil {
			logger.Error("invitation expiry sweep failed", zap.Error(err))
			return
		}
		if len(expired) > 0 {
			logger.Info("invitation expiry sweep", zap.Int("expired", len(expired)))
		}
	}); err != nil {
		logger.Fatal("schedule invitation sweep", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
