package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Artemchik-Development/node-icq-server/config"
	"github.com/Artemchik-Development/node-icq-server/foodgroup"
	oscarhttp "github.com/Artemchik-Development/node-icq-server/server/http"
	"github.com/Artemchik-Development/node-icq-server/server/oscar"
	"github.com/Artemchik-Development/node-icq-server/state"
)

// shutdownGrace is how long in-flight connections get to wind down once a
// termination signal arrives.
const shutdownGrace = 15 * time.Second

func main() {
	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("unable to process config", "err", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err.Error())
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		slog.Error("invalid config", "err", err.Error())
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	userStore, err := state.NewSQLiteUserStore(cfg.DBPath)
	if err != nil {
		logger.Error("unable to open user store", "path", cfg.DBPath, "err", err.Error())
		os.Exit(1)
	}
	defer userStore.Close()

	sessionManager := state.NewInMemorySessionManager(logger)
	cookieStore := state.NewCookieStore()
	challengeStore := state.NewChallengeStore()

	authService := foodgroup.NewAuthService(
		userStore,
		cookieStore,
		challengeStore,
		sessionManager,
		sessionManager,
		userStore,
		cfg.BOSAdvertisedHost,
		cfg.DisableAuth,
		time.Now,
		logger,
	)
	oserviceService := foodgroup.NewOServiceService(userStore, sessionManager, userStore, logger)
	locateService := foodgroup.NewLocateService(sessionManager, userStore, logger)
	buddyService := foodgroup.NewBuddyService(sessionManager, userStore, logger)
	icbmService := foodgroup.NewICBMService(sessionManager, userStore, time.Now, logger)
	permitDenyService := foodgroup.NewPermitDenyService()
	feedbagService := foodgroup.NewFeedbagService(userStore, sessionManager, time.Now, logger)
	icqService := foodgroup.NewICQService(userStore, userStore, logger)

	router := oscar.BOSRouter(logger,
		oserviceService, locateService, buddyService, icbmService,
		permitDenyService, feedbagService, icqService)

	rateLimiter := oscar.NewIPRateLimiter(rate.Limit(1), 10, 10*time.Minute)
	handler := oscar.NewHandler(authService, oserviceService, router, rateLimiter, logger)

	authServer := oscar.NewServer(cfg.AuthListener, "AUTH", handler.HandleConnection, logger)
	bosServer := oscar.NewServer(cfg.BOSListener, "BOS", handler.HandleConnection, logger)
	apiServer := oscarhttp.NewManagementAPI(cfg.APIListener, cfg.AdminUser, cfg.AdminPass,
		userStore, sessionManager, userStore, cfg.UINMin, cfg.UINMax, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(authServer.ListenAndServe)
	g.Go(bosServer.ListenAndServe)
	g.Go(apiServer.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		var sg errgroup.Group
		sg.Go(func() error { return authServer.Shutdown(shutdownCtx) })
		sg.Go(func() error { return bosServer.Shutdown(shutdownCtx) })
		sg.Go(func() error { return apiServer.Shutdown(shutdownCtx) })
		return sg.Wait()
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "err", err.Error())
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
