package main

import (
	"context"
	"log"

	"github.com/vistacrm/geodedup-engine/internal/api"
	"github.com/vistacrm/geodedup-engine/internal/cache"
	"github.com/vistacrm/geodedup-engine/internal/config"
	"github.com/vistacrm/geodedup-engine/internal/db"
	"github.com/vistacrm/geodedup-engine/internal/detector"
	"github.com/vistacrm/geodedup-engine/internal/enricher"
	"github.com/vistacrm/geodedup-engine/internal/llm"
	"github.com/vistacrm/geodedup-engine/internal/merger"
	"github.com/vistacrm/geodedup-engine/internal/resolvers"
	"github.com/vistacrm/geodedup-engine/internal/scanner"
)

func main() {
	log.Println("Starting VistaCRM GeoDedup Engine (Microservice: geo-dedup-pipeline)...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	dbConn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.InitSchema(); err != nil {
		log.Fatalf("FATAL: Pipeline schema init failed: %v", err)
	}

	// The cache degrades to no-op when Redis is unreachable; external
	// lookups just get slower.
	cacheClient := cache.New(cfg.RedisURL)
	defer cacheClient.Close()

	det := detector.New(dbConn, cfg.SimilarityThreshold, cfg.PairLimit)
	validator := llm.NewValidator(cfg.AnthropicAPIKey, cfg.LLMModel, cfg.LLMBatchSize,
		cacheClient, cfg.LLMCacheTTL)

	registry := resolvers.NewRegistry(cacheClient, cfg.RegistryCacheTTL, cfg.HTTPTimeout)
	cep := resolvers.NewCEPResolver(cacheClient, cfg.CEPCacheTTL, cfg.HTTPTimeout)
	google := resolvers.NewGoogle(cfg.GoogleAPIKey, cacheClient, cfg.GoogleCacheTTL, cfg.HTTPTimeout)
	enr := enricher.New(dbConn, registry, cep, google, cfg.MaxCEPsPerMember, cfg.EnrichmentEnabled)

	mrg := merger.New(dbConn, cfg.TxTimeout)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	scn := scanner.New(dbConn, det, validator, enr, api.BroadcastGroupAlert(wsHub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scn.StartScheduler(ctx, cfg.ScanInterval)

	r := api.SetupRouter(dbConn, scn, mrg, enr, wsHub)

	log.Printf("Engine running on :%s (API Node: geo-dedup-pipeline)\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
