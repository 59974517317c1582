package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/relaycollab/internal/mirror"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("RELAYCOLLAB_BASE_URL", "http://127.0.0.1:8080"), "relaycollab base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("RELAYCOLLAB_TOKEN")), "bearer token")
	room := flag.String("room", strings.TrimSpace(os.Getenv("RELAYCOLLAB_ROOM")), "room ID")
	localFile := flag.String("file", strings.TrimSpace(os.Getenv("RELAYCOLLAB_MIRROR_FILE")), "local mirror file")
	debounce := flag.Duration("debounce", durationEnv("RELAYCOLLAB_MIRROR_DEBOUNCE", 200*time.Millisecond), "local edit debounce")
	timeout := flag.Duration("timeout", durationEnv("RELAYCOLLAB_MIRROR_TIMEOUT", 15*time.Second), "dial timeout")
	maxDelay := flag.Duration("max-reconnect-delay", durationEnv("RELAYCOLLAB_MIRROR_MAX_RECONNECT_DELAY", 30*time.Second), "maximum reconnect delay")
	jitter := flag.Float64("reconnect-jitter", floatEnv("RELAYCOLLAB_MIRROR_RECONNECT_JITTER", 0.2), "reconnect delay jitter ratio (0.0-1.0)")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or RELAYCOLLAB_TOKEN)")
	}
	if strings.TrimSpace(*room) == "" {
		log.Fatalf("room is required (--room or RELAYCOLLAB_ROOM)")
	}
	if strings.TrimSpace(*localFile) == "" {
		log.Fatalf("file is required (--file or RELAYCOLLAB_MIRROR_FILE)")
	}

	m, err := mirror.New(mirror.Options{
		BaseURL:     *baseURL,
		Token:       *token,
		Room:        *room,
		LocalFile:   *localFile,
		Logger:      log.Default(),
		DialTimeout: *timeout,
		Debounce:    *debounce,
		MaxDelay:    *maxDelay,
		Jitter:      *jitter,
		HTTPClient:  &http.Client{Timeout: *timeout},
	})
	if err != nil {
		log.Fatalf("failed to initialize mirror: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("mirroring room %s into %s", *room, *localFile)
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mirror stopped: %v", err)
	}
	log.Printf("mirror stopping")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
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

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}
