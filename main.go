package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/facturacr/go-facturador/facturador/api"
	"github.com/facturacr/go-facturador/facturador/auth"
	"github.com/facturacr/go-facturador/facturador/config"
	"github.com/facturacr/go-facturador/facturador/contingencia"
	"github.com/facturacr/go-facturador/facturador/emisor"
	"github.com/facturacr/go-facturador/facturador/notify"
	"github.com/facturacr/go-facturador/facturador/storage"
	"github.com/facturacr/go-facturador/facturador/util"
)

// Daemon de contingencia: drena la cola de reintentos por organización en
// un intervalo fijo y expone métricas.
func main() {

	if util.DebugEnabled() {
		logrus.SetLevel(logrus.DebugLevel)
	}

	configPath := flag.String("config", "facturador.yaml", "ruta del archivo de configuración")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	masterKey, err := cfg.MasterKeyBytes()
	if err != nil {
		logrus.Fatalf("master key: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logrus.Fatalf("connect storage: %v", err)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	tokens := auth.NewTokenProvider(httpClient)
	resolver := api.NewStoreResolver(store, masterKey, cfg.Environment)
	client := api.NewClient(cfg.Environment.BaseURL(), httpClient, tokens, resolver)

	notifier := notify.NewWebhookDispatcher(cfg.Webhook.URL, httpClient)
	queue := contingencia.NewQueue(store)
	em := emisor.New(store, client, queue, emisor.AllowAll{}, notifier)

	interval, err := cfg.Contingency.IntervalDuration()
	if err != nil {
		logrus.Fatalf("contingency interval: %v", err)
	}
	worker := contingencia.NewWorker(queue, em.RetrySend, store.PendingOrgs, interval)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logrus.Errorf("metrics listener: %v", err)
			}
		}()
	}

	logrus.Infof("contingency worker started, environment=%s interval=%s", cfg.Environment.Name(), interval)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.Fatalf("worker: %v", err)
	}
}
