package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/agentworkforce/relaycollab/internal/httpapi"
	"github.com/agentworkforce/relaycollab/internal/seed"
)

func main() {
	addr := os.Getenv("RELAYCOLLAB_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	seeds, err := seed.BuildSourceFromDSN(strings.TrimSpace(os.Getenv("RELAYCOLLAB_SEED_DSN")))
	if err != nil {
		log.Fatalf("failed to initialize seed source: %v", err)
	}
	defer seeds.Close()

	cfg, err := serverConfigFromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	server := httpapi.NewServerWithConfig(collab.NewDocuments(), collab.NewSessions(), seeds, cfg)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown failed: %v", err)
		}
	}()

	log.Printf("relaycollab listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

func serverConfigFromEnv() (httpapi.ServerConfig, error) {
	resolver, err := resolverFromEnv()
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	policy, ok := collab.ParseOverflowPolicy(os.Getenv("RELAYCOLLAB_OUTBOX_POLICY"))
	if !ok {
		return httpapi.ServerConfig{}, fmt.Errorf("unsupported RELAYCOLLAB_OUTBOX_POLICY: %s", os.Getenv("RELAYCOLLAB_OUTBOX_POLICY"))
	}
	return httpapi.ServerConfig{
		Resolver:        resolver,
		JWTSecret:       os.Getenv("RELAYCOLLAB_JWT_SECRET"),
		OutboxLimit:     intEnv("RELAYCOLLAB_OUTBOX_LIMIT", 0),
		OutboxPolicy:    policy,
		MaxFrameBytes:   int64Env("RELAYCOLLAB_MAX_FRAME_BYTES", 0),
		PingInterval:    durationEnv("RELAYCOLLAB_PING_INTERVAL", 0),
		IdleTimeout:     durationEnv("RELAYCOLLAB_IDLE_TIMEOUT", 0),
		WriteTimeout:    durationEnv("RELAYCOLLAB_WRITE_TIMEOUT", 0),
		SeedTimeout:     durationEnv("RELAYCOLLAB_SEED_TIMEOUT", 0),
		AllowedOrigins:  listEnv("RELAYCOLLAB_ALLOWED_ORIGINS"),
		RateLimitMax:    intEnv("RELAYCOLLAB_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("RELAYCOLLAB_RATE_LIMIT_WINDOW", time.Minute),
		Logger:          log.Default(),
	}, nil
}

func resolverFromEnv() (httpapi.PrincipalResolver, error) {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("RELAYCOLLAB_AUTH_MODE")))
	switch mode {
	case "", "jwt":
		secret := os.Getenv("RELAYCOLLAB_JWT_SECRET")
		if secret == "" {
			log.Printf("RELAYCOLLAB_JWT_SECRET is unset, using the development secret")
			secret = "dev-secret"
		}
		return httpapi.JWTResolver{Secret: secret}, nil
	case "header":
		return httpapi.HeaderResolver{
			UserHeader:  strings.TrimSpace(os.Getenv("RELAYCOLLAB_USER_HEADER")),
			ScopeHeader: strings.TrimSpace(os.Getenv("RELAYCOLLAB_SCOPE_HEADER")),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported RELAYCOLLAB_AUTH_MODE: %s", mode)
	}
}

func listEnv(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
