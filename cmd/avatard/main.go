package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"avatard/internal/app"
	"avatard/internal/common/fsutil"
	"avatard/internal/config"
	"avatard/internal/httpapi"

	"github.com/rs/zerolog"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8090"
	if v := os.Getenv("AVATARD_ADDR"); v != "" {
		defaultAddr = v
	}
	defaultConfig := os.Getenv("AVATARD_CONFIG")
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8090")
	configPath := flag.String("config", defaultConfig, "Path to config file (.yaml/.json/.toml)")
	personaDir := flag.String("persona-dir", "", "Directory for persona preprocessing artifacts (overrides config)")
	outputDir := flag.String("output-dir", "", "Directory for rendered videos (overrides config)")
	maxBody := flag.Int64("max-body-bytes", 0, "Maximum JSON request body size in bytes (0=default 1MiB)")
	vipCallers := flag.String("vip-callers", os.Getenv("AVATARD_VIP_CALLERS"), "Comma-separated caller IDs admitted to the VIP tier (overrides config)")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = c
	}
	// Flag overrides win over the file.
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if *personaDir != "" {
		cfg.PersonaDir = *personaDir
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if cfg.PersonaDir == "" {
		cfg.PersonaDir = "/var/lib/avatard/personas"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "/var/lib/avatard/out"
	}
	if v := splitCSV(*vipCallers); v != nil {
		cfg.VIPCallers = v
	}
	for _, dir := range []*string{&cfg.PersonaDir, &cfg.OutputDir} {
		p, err := fsutil.EnsureDir(*dir)
		if err != nil {
			log.Fatalf("failed to prepare directory: %v", err)
		}
		*dir = p
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "avatard").Logger()
	httpapi.SetLogger(logger)
	if *maxBody > 0 {
		httpapi.SetMaxBodyBytes(*maxBody)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	if err := a.Start(baseCtx); err != nil {
		log.Fatalf("failed to start app: %v", err)
	}

	mux := httpapi.NewMux(a)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("avatard listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	a.Close()
}

// splitCSV splits a comma-separated list, trimming whitespace and dropping
// empty items. Returns nil for an empty input.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
