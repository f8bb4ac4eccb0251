// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openadresse/moissonneur/config"
	"github.com/openadresse/moissonneur/database"
	"github.com/openadresse/moissonneur/handlers"
	"github.com/openadresse/moissonneur/scraper"
	"github.com/openadresse/moissonneur/services"
	"github.com/openadresse/moissonneur/utils"
)

func main() {
	var (
		configPath   = flag.String("config", "config/config.yaml", "path to yaml config")
		communesPath = flag.String("communes", "", "path to a commune registry JSON extract")
		once         = flag.Bool("once", false, "run a single batch then exit")
	)
	flag.Parse()

	log.Println("Starting BAL moissonneur...")

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	cfg := config.AppConfig
	log.Printf("Configuration loaded. Server port: %s, DB name: %s, concurrency: %d",
		cfg.Server.Port, cfg.Database.DBName, cfg.Harvest.Concurrency)

	if err := database.InitDB(cfg.Database); err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer database.CloseDB()

	registry := utils.DefaultCommuneRegistry()
	if *communesPath != "" {
		var err error
		if registry, err = utils.LoadCommuneRegistry(*communesPath); err != nil {
			log.Fatalf("Error loading commune registry: %v", err)
		}
	}

	// Composition root: stores, then the pipeline services, in dependency
	// order.
	sourceStore := database.NewSourceStore(database.DB)
	harvestStore := database.NewHarvestStore(database.DB)
	revisionStore := database.NewRevisionStore(database.DB)
	organizationStore := database.NewOrganizationStore(database.DB)

	downloader := scraper.NewDownloader(cfg.Harvest.FetchTimeout)
	reconciler := services.NewReconciler(cfg.Harvest.MaxRowErrorsPerCommune, registry)
	harvester := services.NewHarvestService(
		sourceStore, harvestStore, revisionStore, organizationStore, downloader, reconciler)
	batch := services.NewBatchService(
		sourceStore, harvester, registry,
		cfg.Export.Dir, cfg.Harvest.Concurrency, cfg.Harvest.FreshnessThreshold)
	catalog := scraper.NewCatalogScraper(cfg.Catalog.URL, cfg.Catalog.Selector)
	sync := services.NewSyncService(sourceStore, organizationStore, catalog)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if _, err := batch.Run(ctx); err != nil {
			log.Printf("ERROR: batch run failed: %v", err)
			database.CloseDB()
			os.Exit(1)
		}
		return
	}

	// --- Setup HTTP routes ---
	h := &handlers.Handler{Sources: sourceStore, Harvests: harvestStore, Revisions: revisionStore}
	admin := &handlers.AdminHandler{Batch: batch, Harvester: harvester, Sync: sync}

	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := database.DB.Ping(); err != nil {
			http.Error(w, `{"status": "error", "message": "database connection error"}`, http.StatusInternalServerError)
			log.Printf("Health check failed: DB ping error: %v", err)
			return
		}
		fmt.Fprintln(w, `{"status": "ok", "message": "moissonneur is healthy"}`)
	})
	http.Handle("/metrics", promhttp.Handler())

	http.HandleFunc("/api/sources", h.ListSourcesHandler)
	http.HandleFunc("/api/sources/", h.SourceHarvestsHandler)
	http.HandleFunc("/api/harvests/", h.HarvestRevisionsHandler)
	http.HandleFunc("/api/admin/harvest/", admin.HarvestHandler)
	http.HandleFunc("/api/admin/sync-sources", admin.SyncSourcesHandler)

	// Background harvest loop. A collaborator failure aborts the process
	// with a non-zero status; per-source failures never do.
	go func() {
		runBatch := func() {
			if _, err := batch.Run(ctx); err != nil {
				log.Printf("ERROR: batch run failed, shutting down: %v", err)
				database.CloseDB()
				os.Exit(1)
			}
		}
		runBatch()
		ticker := time.NewTicker(cfg.Harvest.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runBatch()
			}
		}
	}()

	serverAddr := ":" + cfg.Server.Port
	server := &http.Server{Addr: serverAddr}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on http://localhost%s\n", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Error starting server: %v", err)
	}
}
