package main

import (
	"context"
	"log"
	"os"
	"time"

	"expirysnap/internal/api"
	"expirysnap/internal/config"
	"expirysnap/internal/redis"
	"expirysnap/internal/service/handoff"
	"expirysnap/internal/service/vision"
	"expirysnap/internal/storage"
	"expirysnap/internal/store"
	"expirysnap/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("EXPIRYSNAP_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ttl := time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute
	if ttl <= 0 {
		ttl = store.DefaultSessionTTL
	}

	backend := os.Getenv("EXPIRYSNAP_STORE")
	if backend == "" {
		backend = "sqlite3"
	}
	log.Printf("session store backend: %s\n", backend)

	var sessions store.SessionStore
	switch backend {
	case "redis":
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		sessions, err = store.NewRedisStore(rdb, ttl)
		if err != nil {
			log.Fatalf("init redis store: %v", err)
		}
	default:
		db, err := storage.Open(backend, cfg)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := storage.Migrate(db, backend); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		sessions = store.NewSQLStore(db, ttl)
	}

	blobBase := cfg.BasicConfig.BlobBaseDir
	if blobBase == "" {
		blobBase = "./data/blobs"
	}
	blobs, err := store.NewBlobStore(blobBase)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sweepInterval := time.Duration(cfg.BasicConfig.SweepInterval) * time.Minute
	store.NewSweeper(sessions, blobs, ttl).Start(sweepCtx, sweepInterval)

	provider := cfg.BasicConfig.Provider
	if provider == "" {
		provider = "gemini"
	}
	visionService, err := vision.NewService(cfg, provider)
	if err != nil {
		log.Fatalf("init vision service: %v", err)
	}

	workerCfg := worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}
	pipeline := worker.NewManager(visionService, workerCfg)

	handoffService := handoff.NewService(sessions, blobs)
	handlers := api.NewHandler(handoffService, pipeline, int64(cfg.BasicConfig.MaxUploadMB)<<20)

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
