package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dtgportal/portalsync/internal/cart"
	"github.com/dtgportal/portalsync/internal/httpapi"
	"github.com/dtgportal/portalsync/internal/listing"
	"github.com/dtgportal/portalsync/internal/remote"
)

func main() {
	addr := os.Getenv("PORTALSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	backend, err := cart.BuildBackendFromDSN(cartDSNFromEnv())
	if err != nil {
		log.Fatalf("failed to initialize cart backend: %v", err)
	}
	if backend == nil {
		backend = cart.NewInMemoryBackend()
	}
	defer func() {
		if closeErr := cart.CloseBackend(backend); closeErr != nil {
			log.Printf("cart backend close failed: %v", closeErr)
		}
	}()

	apiToken := strings.TrimSpace(os.Getenv("PORTALSYNC_API_TOKEN"))
	client := remote.NewHTTPClient(remote.HTTPClientOptions{
		BaseURL: os.Getenv("PORTALSYNC_API_BASE_URL"),
		TokenProvider: func(ctx context.Context) (string, error) {
			return apiToken, nil
		},
		UserAgent:  "portalsync/1.0",
		MaxRetries: intEnv("PORTALSYNC_MAX_RETRIES", 0),
		BaseDelay:  durationEnv("PORTALSYNC_RETRY_BASE_DELAY", 0),
		MaxDelay:   durationEnv("PORTALSYNC_RETRY_MAX_DELAY", 0),
		HTTPClient: &http.Client{Timeout: durationEnv("PORTALSYNC_HTTP_TIMEOUT", 15*time.Second)},
	})

	store := cart.NewStore(cart.StoreOptions{
		Backend:    backend,
		StorageKey: os.Getenv("PORTALSYNC_CART_KEY"),
	})

	// The catalog fetch is best effort: the persisted cart still loads when
	// the backend is unreachable and reconciles on the next products call.
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	catalog, err := client.Products(loadCtx)
	if err != nil {
		log.Printf("startup catalog fetch failed, loading cart without reconciliation: %v", err)
	}
	if err := store.Load(loadCtx, catalog); err != nil {
		cancel()
		log.Fatalf("failed to load cart: %v", err)
	}
	cancel()

	controller := listing.NewController(listing.ControllerOptions{
		Client:   client,
		Debounce: durationEnv("PORTALSYNC_LISTING_DEBOUNCE", 0),
	})
	defer controller.Close()

	server := httpapi.NewServer(store, controller, client, httpapi.ServerConfig{
		AuthToken:    os.Getenv("PORTALSYNC_AUTH_TOKEN"),
		UserID:       os.Getenv("PORTALSYNC_USER_ID"),
		MaxBodyBytes: int64Env("PORTALSYNC_MAX_BODY_BYTES", 0),
	}, nil)

	srv := &http.Server{Addr: addr, Handler: server.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("portalsync listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		log.Fatalf("server failed: %v", err)
	case <-sigCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown incomplete: %v", err)
	}
}

func cartDSNFromEnv() string {
	if dsn := strings.TrimSpace(os.Getenv("PORTALSYNC_CART_DSN")); dsn != "" {
		return dsn
	}
	if dir := strings.TrimSpace(os.Getenv("PORTALSYNC_DATA_DIR")); dir != "" {
		return "file://" + dir
	}
	return "memory://"
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
