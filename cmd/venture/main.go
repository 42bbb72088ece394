package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/venture/internal/api"
	"github.com/jordanhubbard/venture/internal/telemetry"
	"github.com/jordanhubbard/venture/internal/venture"
	"github.com/jordanhubbard/venture/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "venture.yaml", "Path to configuration file")
	httpPort := flag.Int("port", 0, "HTTP port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	if *showVersion {
		fmt.Printf("Venture v%s\n", version)
		return
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config from %s: %v", *configPath, err)
		}
		log.Printf("Config %s not found, using defaults", *configPath)
		cfg = config.DefaultConfig()
	}

	// Override with environment variables if set
	if dsn := os.Getenv("VENTURE_DB_DSN"); dsn != "" {
		cfg.Database.Type = "postgres"
		cfg.Database.DSN = dsn
		log.Printf("Using postgres database from environment")
	}
	if port := os.Getenv("VENTURE_HTTP_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Server.HTTPPort = n
		}
	}
	if *httpPort > 0 {
		cfg.Server.HTTPPort = *httpPort
	}

	// Initialize OpenTelemetry
	if cfg.Telemetry.Enabled {
		otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if otelEndpoint == "" {
			otelEndpoint = cfg.Telemetry.Endpoint
		}
		shutdownTelemetry, err := telemetry.InitTelemetry(context.Background(), "venture", version, otelEndpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	app, err := venture.New(cfg)
	if err != nil {
		log.Fatalf("failed to create venture: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(runCtx); err != nil {
		log.Fatalf("failed to start venture: %v", err)
	}

	// Tunable policy sections reload live; structural settings need a restart.
	watcher, err := config.NewWatcher(*configPath, app.Retune)
	if err != nil {
		log.Printf("Warning: config watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	handler := api.NewServer(app, cfg).SetupRoutes()

	// Wrap handler with OpenTelemetry instrumentation
	handler = otelhttp.NewHandler(handler, "venture-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Venture API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = httpSrv.Shutdown(shutdownCtx)
	app.Shutdown()
}

func printHelp() {
	fmt.Println("Usage: venture [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config   Path to configuration file (default: venture.yaml)")
	fmt.Println("  -port     HTTP port, overriding the config file")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -help     Show help message")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  VENTURE_DB_DSN      Postgres DSN (switches storage off sqlite)")
	fmt.Println("  VENTURE_HTTP_PORT   HTTP port")
	fmt.Println("  VENTURE_JWT_SECRET  Admin API token signing secret")
	fmt.Println("  NATS_URL            Enables the NATS event mirror")
}
