package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqtt "github.com/golang-io/vibemq"
	"github.com/golang-io/vibemq/bridge"
	"github.com/golang-io/vibemq/config"
	"github.com/golang-io/vibemq/logger"
)

func main() {
	path := flag.String("config", "", "Path to config file (yaml)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := mqtt.NewBroker(cfg, lg)
	if err != nil {
		lg.Fatal("broker: wire", zap.Error(err))
	}

	group, gctx := errgroup.WithContext(ctx)
	srv := mqtt.NewServer(gctx, broker)

	group.Go(func() error {
		broker.RunBackground(gctx)
		return nil
	})

	if cfg.Server.MQTT.URL != "" {
		group.Go(func() error {
			return srv.ListenAndServe(mqtt.URL(cfg.Server.MQTT.URL))
		})
	}

	if cfg.Server.MQTTTLS != nil && cfg.Server.MQTTTLS.URL != "" {
		tlsURL := cfg.Server.MQTTTLS.URL
		certFile, keyFile := cfg.Server.MQTTTLS.CertFile, cfg.Server.MQTTTLS.KeyFile
		group.Go(func() error {
			return srv.ListenAndServeTLS(certFile, keyFile, mqtt.URL(tlsURL))
		})
	}

	if cfg.Server.WebSocket != nil && cfg.Server.WebSocket.URL != "" {
		wsURL := cfg.Server.WebSocket.URL
		group.Go(func() error {
			return srv.ListenAndServeWebsocket(mqtt.URL(wsURL))
		})
	}

	for _, peerCfg := range cfg.Bridge {
		peer := bridge.NewPeer(peerCfg, broker.Router, lg)
		group.Go(func() error {
			peer.Run(gctx)
			return nil
		})
	}

	membership := bridge.NewStaticMembership(cfg.Server.MQTT.URL, cfg.Cluster, lg)
	group.Go(func() error {
		membership.Run(gctx, 5*time.Second)
		return nil
	})

	if cfg.Metrics.Enabled && cfg.Metrics.ListenURL != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", broker.Metrics.Handler())
		mux.HandleFunc("/healthz", bridge.HealthzHandler())
		httpSrv := &http.Server{Addr: cfg.Metrics.ListenURL, Handler: mux}
		group.Go(func() error {
			return httpSrv.ListenAndServe()
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}
