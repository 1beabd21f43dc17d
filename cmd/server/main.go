// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/auth"
	"github.com/stolik-gg/stolik/internal/bots"
	"github.com/stolik-gg/stolik/internal/broadcast"
	"github.com/stolik-gg/stolik/internal/config"
	_ "github.com/stolik-gg/stolik/internal/engine/sixtysix"
	_ "github.com/stolik-gg/stolik/internal/engine/thousand"
	"github.com/stolik-gg/stolik/internal/handlers"
	"github.com/stolik-gg/stolik/internal/match"
	"github.com/stolik-gg/stolik/internal/middleware"
	"github.com/stolik-gg/stolik/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer st.Close()

	roster := bots.DefaultRoster()
	dir := bots.NewDirectory(roster)

	rt := match.NewRuntime(st, cfg, logger)
	rt.BotLookup = dir.Lookup
	rt.BotPolicy = bots.NewRandomPolicy(time.Now().UnixNano())

	bus := broadcast.NewBus(st, logger)
	bus.OnSinkGone = func(matchID string, userID uuid.UUID) {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.OnDisconnect(dctx, matchID, userID); err != nil && !errors.Is(err, match.ErrNotInGame) {
			logger.Warnf("disconnect %s in %s: %v", userID, matchID, err)
		}
	}

	sessions := auth.NewService(cfg.JWTSecret, st)

	worker := bots.NewWorker(rt, st, cfg, logger, roster, time.Now().UnixNano())

	botWG := rt.StartBotTurnWorkers(ctx)
	sweepWG := rt.StartSweepers(ctx)
	worker.Start(ctx)

	gw := &handlers.Gateway{
		Log:      logger,
		Runtime:  rt,
		Bus:      bus,
		Sessions: sessions,
	}
	api := &handlers.API{Gateway: gw, Bots: worker}

	logged := middleware.LogMiddleware(logger)
	guarded := middleware.Recover(logger)

	mux := http.NewServeMux()
	mux.Handle("/session", logged(http.HandlerFunc(api.CreateSession)))
	mux.Handle("/match/create", logged(http.HandlerFunc(api.CreateMatch)))
	mux.Handle("/match/join", logged(http.HandlerFunc(api.JoinMatch)))
	mux.Handle("/match/list", logged(http.HandlerFunc(api.ListMatches)))
	mux.Handle("/admin/matchmaking", logged(http.HandlerFunc(api.AdminMatchmaking)))
	mux.Handle("/admin/bot", logged(http.HandlerFunc(api.AdminBot)))
	mux.Handle("/admin/status", logged(http.HandlerFunc(api.AdminStatus)))
	mux.Handle("/ws/", logged(http.HandlerFunc(gw.MatchWS)))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: guarded(mux),
	}
	if port := os.Getenv("PORT"); port != "" {
		srv.Addr = ":" + port
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}

	worker.Stop()
	sweepWG.Wait()
	botWG.Wait()
	logger.Info("shutdown complete")
}
