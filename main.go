package main

import (
	"context"
	"log"
	"os"
	"time"

	"skillsling/internal/account"
	"skillsling/internal/api"
	"skillsling/internal/auth"
	"skillsling/internal/config"
	"skillsling/internal/history"
	"skillsling/internal/redis"
	"skillsling/internal/service/docs"
	"skillsling/internal/service/facts"
	"skillsling/internal/storage"
	"skillsling/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("SKILLSLING_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("SKILLSLING_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, apiKeys, temp_files
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// the cache is optional; everything degrades to direct reads without it
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running without cache: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	store := history.NewStore(cfg.BasicConfig.HistoryPath)
	store.Load()

	accounts := account.NewService(db)
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	cleanInterval := time.Duration(cfg.BasicConfig.TempCleanInterval) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = account.DefaultTempFileCleanupInterval
	}
	accounts.StartTempFileCleaner(cleanCtx, cleanInterval)

	authService := auth.NewService(db, rdb, 24*time.Hour)

	extractor, err := docs.NewExtractor(context.Background())
	if err != nil {
		log.Printf("document extraction unavailable: %v", err)
		extractor = nil
	}
	factSvc := facts.NewService(context.Background())

	workers := worker.NewManager(cfg, store, extractor, factSvc, rdb)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	tempTTL := time.Duration(cfg.BasicConfig.TempFileTTL) * time.Minute
	if tempTTL <= 0 {
		tempTTL = account.DefaultTempFileTTL
	}
	handlers := api.NewHandler(accounts, authService, store, workers, fileBase, tempTTL)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
