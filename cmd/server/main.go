package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cerdanyolabus/busmap/api/handlers"
	"github.com/cerdanyolabus/busmap/internal/config"
	"github.com/cerdanyolabus/busmap/internal/metrics"
	"github.com/cerdanyolabus/busmap/pkg/busmap"
	"github.com/gorilla/mux"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "Config file")
		port       = flag.Int("port", 0, "Server port (overrides config)")
		stopsFile  = flag.String("stops", "", "Stop catalog file or URL (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *stopsFile != "" {
		cfg.Catalog.Source = *stopsFile
	}

	clientConfig := busmap.ConfigFrom(*cfg)

	var collector *metrics.Collector
	if cfg.Server.MetricsEnabled {
		collector = metrics.NewCollector()
		clientConfig.Metrics = collector
	}

	client, err := busmap.NewLocal(context.Background(), clientConfig)
	if err != nil {
		log.Fatalf("Failed to create busmap client: %v", err)
	}
	defer client.Close()

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(client, collector),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// newRouter builds the API router. CORS wraps the whole router so that
// preflight requests are answered before route matching.
func newRouter(client busmap.Client, collector *metrics.Collector) http.Handler {
	r := mux.NewRouter()
	h := handlers.NewHandler(client)
	h.RegisterRoutes(r)
	if collector != nil {
		r.Handle("/metrics", collector.Handler()).Methods("GET")
	}

	r.Use(loggingMiddleware)
	return corsMiddleware(r)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.RequestURI, time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
