package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"netchat/channel"
	"netchat/chatroom"
	"netchat/config"
	"netchat/control"
	"netchat/db"
	"netchat/dm"
	"netchat/server"
	"netchat/status"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer database.Close()

	rooms, err := chatroom.New(cfg.ChatroomsDir(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize chatroom store")
	}
	mailbox, err := channel.New(cfg.NodesDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize node mailbox")
	}

	resolver := dm.NewResolver(rooms)
	ctrl := control.New(mailbox, rooms, resolver, database, cfg.LedgerLimit, logger)

	addrs := make([]string, 0, len(cfg.Nodes))
	for addr := range cfg.Nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		if err := ctrl.Attach(addr, cfg.Nodes[addr]); err != nil {
			logger.Warn().Err(err).Str("address", addr).Msg("failed to attach node")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	poller := control.NewPoller(ctrl, time.Duration(cfg.PollInterval)*time.Millisecond, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	srv := server.New(database, rooms, resolver, ctrl, &server.ServerConfig{
		SocketPath:   cfg.SocketPath,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Forward(ctx, poller.Updates())
	}()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("control socket failed")
			cancel()
		}
	}()

	var httpServer *http.Server
	if cfg.StatusAddr != "" {
		httpServer = status.NewServer(cfg.StatusAddr, status.NewRouter(logger, ctrl.Ledger(), rooms))
		go func() {
			logger.Info().Str("addr", cfg.StatusAddr).Msg("status API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("status API failed")
			}
		}()
	}

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	cancel()
	srv.Close()
	srv.Shutdown("shutdown")
	os.Remove(cfg.SocketPath)

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status API shutdown")
		}
		shutdownCancel()
	}

	wg.Wait()
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
