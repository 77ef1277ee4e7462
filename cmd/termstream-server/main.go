package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/termstream/termstream/internal/config"
	"github.com/termstream/termstream/internal/logging"
	"github.com/termstream/termstream/internal/session"
	"github.com/termstream/termstream/internal/ws"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "termstream.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	openMode := flag.String("open", "", "Open a session of this mode (mock, ssh, local) at startup")
	genToken := flag.Bool("gen-token", false, "Print a random auth token and exit")
	flag.Parse()

	if *genToken {
		tok, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	flush, err := logging.Install(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer flush()
	logger := zap.S()

	for _, key := range config.Diff(config.Default(), cfg) {
		logger.Infof("[config] %s overrides the default", key)
	}
	if cfg.Server.AuthToken == "" {
		logger.Warn("[config] server.auth_token is empty; the API is open to any local client")
	}

	ctrl := session.NewController(session.Options{
		Window:       cfg.Stream.BatchWindow,
		ReadSize:     cfg.Stream.ReadSize,
		MaxBatches:   cfg.Stream.SinkQueue,
		MaxTokens:    cfg.Stream.SinkOverflowTokens,
		DrainTimeout: cfg.Stream.DrainTimeout,
		MaxSequence:  cfg.Stream.MaxSequence,
	})
	hub := ws.NewHub(cfg.Server.MaxConnections, cfg.Server.HistoryBatches)
	open := sourceFactory(cfg)
	server := ws.NewServer(cfg.Server, ctrl, hub, open)

	watched := make(chan struct{})
	go func() {
		server.WatchEvents()
		close(watched)
	}()

	if *openMode != "" {
		if err := openInitial(ctrl, hub, open, *openMode); err != nil {
			logger.Fatalf("[session] open %s session: %v", *openMode, err)
		}
	}

	httpServer := ws.NewHTTPServer(cfg.Server.Host, cfg.Server.Port, server.Handler())
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("[server] listening on %s", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infof("[server] %s received, shutting down", sig)
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[server] serve: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("[server] shutdown: %v", err)
	}
	ctrl.CloseAll()
	<-watched
	hub.Stop()
	logger.Infof("[server] stopped (%d lifecycle events dropped)", ctrl.DroppedEvents())
}

func openInitial(ctrl *session.Controller, hub *ws.Hub, open ws.SourceFactory, mode string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	src, err := open(ctx, mode)
	if err != nil {
		return err
	}
	s, err := ctrl.Open(session.Spec{Mode: mode, Source: src, Consumer: hub})
	if err != nil {
		src.Close()
		return err
	}
	zap.S().Infof("[session] opened %s (%s) as %s", s.Name(), mode, s.ID())
	return nil
}
