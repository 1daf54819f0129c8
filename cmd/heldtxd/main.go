// Command heldtxd wires the held-transaction core to a MySQL-backed
// process and serves it over HTTP. Grounded on contenox-runtime's
// cmd/runtime-api/main.go: load config, build the storage layer, build
// the domain services on top of it, mount routes, serve.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heldtx/heldtx/internal/clock"
	"github.com/heldtx/heldtx/internal/config"
	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/eventbus"
	"github.com/heldtx/heldtx/internal/httpapi"
	"github.com/heldtx/heldtx/internal/txmanager"
	"github.com/heldtx/heldtx/internal/widgets"
)

func main() {
	cfg := config.LoadFromFlags()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[heldtx] invalid configuration: %v", err)
	}

	dsn := os.Getenv("HELDTX_MYSQL_DSN")
	if dsn == "" {
		log.Fatal("[heldtx] HELDTX_MYSQL_DSN is required")
	}

	pool, err := dbtx.Open(dsn)
	if err != nil {
		log.Fatalf("[heldtx] failed to open database: %v", err)
	}
	defer pool.Close()

	if err := migrateDemoSchema(dsn); err != nil {
		log.Fatalf("[heldtx] failed to migrate demo schema: %v", err)
	}

	publisher := buildPublisher()
	if closer, ok := publisher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	manager := txmanager.New(cfg, pool, clock.System{}, publisher)
	manager.StartReaper()

	dispatcher := httpapi.NewDispatcher(manager, pool)

	mux := http.NewServeMux()
	httpapi.AddTransactionRoutes(mux, manager)
	widgets.AddRoutes(mux, dispatcher, clock.System{})

	addr := os.Getenv("HELDTX_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		log.Printf("[heldtx] listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[heldtx] server failed: %v", err)
		}
	}()

	waitForShutdownSignal()

	log.Print("[heldtx] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[heldtx] graceful shutdown failed: %v", err)
	}
	manager.Shutdown(shutdownCtx)
}

// migrateDemoSchema runs the widgets resource's migrations on its own
// short-lived *sql.DB, separate from the pool the held-transaction core
// uses, since goose needs a plain *sql.DB handle.
func migrateDemoSchema(dsn string) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return widgets.Migrate(db)
}

// buildPublisher wires the lifecycle event publisher: a real AMQP
// exchange when HELDTX_AMQP_URL is set, a log-line publisher otherwise.
func buildPublisher() eventbus.Publisher {
	amqpURL := os.Getenv("HELDTX_AMQP_URL")
	if amqpURL == "" {
		return eventbus.Logger{}
	}
	exchange := os.Getenv("HELDTX_AMQP_EXCHANGE")
	if exchange == "" {
		exchange = "heldtx.lifecycle"
	}
	publisher, err := eventbus.NewAMQPPublisher(amqpURL, exchange)
	if err != nil {
		log.Printf("[heldtx] failed to connect lifecycle publisher, falling back to log-only: %v", err)
		return eventbus.Logger{}
	}
	return publisher
}

func waitForShutdownSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
