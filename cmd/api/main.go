package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"practica.org/internal/approval"
	"practica.org/internal/authz"
	"practica.org/internal/feed"
	"practica.org/internal/httpapi"
	"practica.org/internal/obs"
	"practica.org/internal/personnel"
	"practica.org/internal/review"
	"practica.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("PRACTICA_COMMIT"))

	dsn := os.Getenv("PRACTICA_PG_DSN")
	if dsn == "" {
		log.Fatal("missing PRACTICA_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	approvals, err := approval.NewService(store.Approvals())
	if err != nil {
		log.Fatalf("approval service: %v", err)
	}
	changes, err := personnel.NewService(store.ChangeRequests())
	if err != nil {
		log.Fatalf("personnel service: %v", err)
	}
	notes, err := review.NewService(store.ReviewNotes())
	if err != nil {
		log.Fatalf("review service: %v", err)
	}
	resolver, err := authz.NewResolver(store.Directory())
	if err != nil {
		log.Fatalf("access resolver: %v", err)
	}
	aggregator := feed.NewAggregator(approvals, changes, notes, store.Acceptances(), resolver)

	api := httpapi.New(httpapi.Config{
		ReadyProbe: httpapi.ReadyProbe{DB: store.DB()},
		Version:    version,
		Approvals:  approvals,
		Changes:    changes,
		Notes:      notes,
		Resolver:   resolver,
		Feed:       aggregator,
	})

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20)))))

	addr := os.Getenv("PRACTICA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting practica-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
