package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"practica.org/internal/approval"
	"practica.org/internal/audit"
	"practica.org/internal/authz"
	"practica.org/internal/feed"
	"practica.org/internal/obs"
	"practica.org/internal/personnel"
	"practica.org/internal/review"
)

// ReadyProbe checks backing-store readiness, typically a DB ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the HTTP surface.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	approvals *approval.Service
	changes   *personnel.Service
	notes     *review.Service
	resolver  *authz.Resolver
	feed      *feed.Aggregator
}

// Config carries the collaborators an API serves.
type Config struct {
	ReadyProbe ReadyProbe
	Version    string

	Approvals *approval.Service
	Changes   *personnel.Service
	Notes     *review.Service
	Resolver  *authz.Resolver
	Feed      *feed.Aggregator
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		approvals:  cfg.Approvals,
		changes:    cfg.Changes,
		notes:      cfg.Notes,
		resolver:   cfg.Resolver,
		feed:       cfg.Feed,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/approvals", a.handleApprovalsCollection)
	a.mux.HandleFunc("/v1/approvals/", a.handleApprovalResource)
	a.mux.HandleFunc("/v1/change-requests", a.handleChangeRequestsCollection)
	a.mux.HandleFunc("/v1/change-requests/", a.handleChangeRequestResource)
	a.mux.HandleFunc("/v1/review-notes", a.handleReviewNotesCollection)
	a.mux.HandleFunc("/v1/review-notes/", a.handleReviewNoteResource)
	a.mux.HandleFunc("/v1/feed", a.handleFeed)
	a.mux.HandleFunc("/v1/access/check", a.handleAccessCheck)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "practica-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "practica-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, entity, id string, fields map[string]string) {
	payload := map[string]any{
		"entity":    entity,
		"entity_id": id,
	}
	for k, v := range fields {
		payload[k] = v
	}
	_ = audit.LogEvent(ctx, event, payload)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
