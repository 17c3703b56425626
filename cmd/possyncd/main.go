package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tillworks/possync/internal/config"
	"github.com/tillworks/possync/internal/core"
	"github.com/tillworks/possync/internal/handlers"
)

func setupRouter(c *core.Core) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(g *gin.Context) {
		g.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, c)

	return r
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (env overrides apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	c, err := core.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("init core: %v", err)
	}
	defer c.Close()

	r := setupRouter(c)
	log.Printf("possyncd listening on %s (store %s, backend %s)",
		cfg.ListenAddr, cfg.StorePath, cfg.Endpoint)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
