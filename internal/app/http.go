package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"parkinglot/parking-server/internal/model"
	"parkinglot/parking-server/internal/parking"
	"parkinglot/parking-server/internal/receipt"
)

const (
	headerOperatorID   = "X-Operator-ID"
	headerOperatorRole = "X-Operator-Role"
	roleAdmin          = "admin"
)

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", a.handleConfig)

		r.Get("/tariffs", a.handleListTariffs)
		r.Put("/tariffs", a.handleReplaceTariffs)
		r.Get("/tariffs/{category}", a.handleGetTariff)

		r.Post("/sessions", a.handleRegisterEntry)
		r.Get("/sessions", a.handleListSessions)
		r.Get("/sessions/{plate}/quote", a.handleQuote)
		r.Post("/sessions/{plate}/exit", a.handleRegisterExit)
		r.Delete("/sessions/{plate}", a.handleCancelSession)

		r.Get("/receipts", a.handleListReceipts)
		r.Get("/receipts/{id}", a.handleGetReceipt)
		r.Get("/receipts/{id}/text", a.handleReceiptText)
	})

	return r
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"started": humanize.Time(a.started),
	})
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store == nil || a.parking == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": a.parking.Active(),
	})
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout)
	defer cancel()

	persisted, err := a.store.AppConfig(ctx)
	if err != nil {
		a.logger.Error("failed to load app config", "error", err)
		writeError(w, fmt.Errorf("%w: load app config: %v", model.ErrPersistence, err))
		return
	}

	active := map[string]any{
		"http_port":         a.cfg.HTTPPort,
		"database_path":     a.cfg.DatabasePath,
		"log_level":         a.cfg.LogLevel,
		"store_timeout":     a.cfg.StoreTimeout.String(),
		"currency":          a.cfg.Currency,
		"instance_id":       a.cfg.InstanceID,
		"mqtt_enabled":      a.cfg.MQTTBrokerURL != "",
		"mqtt_topic_prefix": a.cfg.MQTTTopicPrefix,
		"redis_locks":       a.cfg.RedisURL != "",
		"mdns":              a.cfg.MDNSEnabled,
	}

	writeJSON(w, http.StatusOK, struct {
		Active    map[string]any    `json:"active"`
		Persisted map[string]string `json:"persisted"`
	}{Active: active, Persisted: persisted})
}

func (a *App) handleListTariffs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tariffs": a.tariffs.Snapshot()})
}

func (a *App) handleGetTariff(w http.ResponseWriter, r *http.Request) {
	category := model.Category(chi.URLParam(r, "category"))
	rule, err := a.tariffs.Get(category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "rule": rule})
}

func (a *App) handleReplaceTariffs(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get(headerOperatorRole)), roleAdmin) {
		writeError(w, model.ErrForbidden)
		return
	}

	var req struct {
		Tariffs model.TariffTable `json:"tariffs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout)
	defer cancel()

	if err := a.tariffs.ReplaceAll(ctx, req.Tariffs); err != nil {
		a.logger.Warn("tariff update rejected", "operator", operatorID(r), "error", err)
		writeError(w, err)
		return
	}

	a.logger.Info("tariffs updated", "operator", operatorID(r), "categories", len(req.Tariffs))
	writeJSON(w, http.StatusOK, map[string]any{"tariffs": a.tariffs.Snapshot()})
}

func (a *App) handleRegisterEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plate       string `json:"plate"`
		Category    string `json:"category"`
		Size        string `json:"size"`
		AgreedPrice *int64 `json:"agreed_price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := a.parking.RegisterEntry(r.Context(), parking.EntryInput{
		Plate:       req.Plate,
		Category:    model.Category(req.Category),
		OwnerRef:    operatorID(r),
		Size:        req.Size,
		AgreedPrice: req.AgreedPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.parking.ListSessions(r.Context(), parking.Filter{
		Category: model.Category(r.URL.Query().Get("category")),
		Query:    r.URL.Query().Get("q"),
	})
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (a *App) handleQuote(w http.ResponseWriter, r *http.Request) {
	plate := model.NormalizePlate(chi.URLParam(r, "plate"))
	quote, err := a.parking.Quote(r.Context(), plate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plate":     plate,
		"quote":     quote,
		"formatted": receipt.Money(quote.OriginalCost, a.cfg.Currency),
	})
}

func (a *App) handleRegisterExit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExitTimestamp *int64 `json:"exit_timestamp"`
		Adjustment    int64  `json:"adjustment"`
		Override      *int64 `json:"override"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := a.parking.RegisterExit(r.Context(), parking.ExitInput{
		Plate:         chi.URLParam(r, "plate"),
		ExitTimestamp: req.ExitTimestamp,
		Adjustment:    req.Adjustment,
		Override:      req.Override,
		SettledBy:     operatorID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := a.parking.CancelSession(r.Context(), chi.URLParam(r, "plate")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 250 {
			limit = parsed
		}
	}

	receipts, err := a.parking.Receipts(r.Context(), r.URL.Query().Get("plate"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (a *App) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := a.parking.Receipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleReceiptText(w http.ResponseWriter, r *http.Request) {
	rec, err := a.parking.Receipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := receipt.Render(w, rec, a.cfg.Currency); err != nil {
		a.logger.Error("failed to render receipt", "receipt", rec.ID, "error", err)
	}
}

func operatorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerOperatorID))
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", model.ErrValidation, err)
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid JSON body: %v", model.ErrValidation, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrDuplicateActive):
		return http.StatusConflict, "duplicate_active_session"
	case errors.Is(err, model.ErrMissingNegotiatedPrice):
		return http.StatusUnprocessableEntity, "missing_negotiated_price"
	case errors.Is(err, model.ErrInvalidDuration):
		return http.StatusUnprocessableEntity, "invalid_duration"
	case errors.Is(err, model.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
