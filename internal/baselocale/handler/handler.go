// Package handler exposes the base locale API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/deposit"
	"balregistry/internal/platform/metrics"
	"balregistry/internal/platform/middleware"
	"balregistry/internal/sync/engine"
	"balregistry/internal/transport/http/shared"
	id "balregistry/pkg/domain"
	dErrors "balregistry/pkg/domain-errors"
	"balregistry/pkg/secrets"
)

// Service defines the base locale lifecycle operations.
type Service interface {
	Create(ctx context.Context, name, communeCode string, emails []string) (*models.BaseLocale, string, error)
	Get(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error)
	CreateHabilitation(ctx context.Context, blID id.BaseLocaleID) (*deposit.Habilitation, error)
	GetHabilitation(ctx context.Context, blID id.BaseLocaleID) (*deposit.Habilitation, error)
	SendPin(ctx context.Context, blID id.BaseLocaleID) error
	ValidatePin(ctx context.Context, blID id.BaseLocaleID, code string) (*deposit.Habilitation, error)
}

// SyncService defines the reconciliation operations.
type SyncService interface {
	Reconcile(ctx context.Context, blID id.BaseLocaleID, opts engine.Options) (*models.BaseLocale, error)
	Pause(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error)
	Resume(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error)
}

// Handler handles base locale endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	sync         SyncService
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new base locale Handler.
func New(
	service Service,
	sync SyncService,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		sync:         sync,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the base locale routes with the chi router. Creation and
// reads are public; everything that mutates an existing base locale or touches
// the deposit service requires either an operator JWT or the base locale's
// admin token.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Latency(h.metrics))

	router.Group(func(public chi.Router) {
		public.Use(middleware.Timeout(15 * time.Second))
		public.Post("/v1/bases-locales", h.handleCreate)
		public.Get("/v1/bases-locales/{baseLocaleID}", h.handleGet)
	})

	router.Group(func(protected chi.Router) {
		// Long enough for a reconciliation that waits on the deposit
		// service's compute step.
		protected.Use(middleware.Timeout(90 * time.Second))
		protected.Use(h.requireAccess)
		protected.Post("/v1/bases-locales/{baseLocaleID}/sync", h.handleSync)
		protected.Post("/v1/bases-locales/{baseLocaleID}/sync/pause", h.handlePause)
		protected.Post("/v1/bases-locales/{baseLocaleID}/sync/resume", h.handleResume)
		protected.Post("/v1/bases-locales/{baseLocaleID}/habilitation", h.handleCreateHabilitation)
		protected.Get("/v1/bases-locales/{baseLocaleID}/habilitation", h.handleGetHabilitation)
		protected.Post("/v1/bases-locales/{baseLocaleID}/habilitation/pin", h.handleSendPin)
		protected.Post("/v1/bases-locales/{baseLocaleID}/habilitation/pin/validate", h.handleValidatePin)
	})

	r.Mount("/", router)
}

// requireAccess admits either a valid operator JWT or the target base
// locale's admin token. The admin token only grants access to the base locale
// it was issued for.
func (h *Handler) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			h.logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", middleware.GetRequestID(ctx))
			shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
			return
		}

		if claims, err := h.jwtValidator.ValidateToken(token); err == nil {
			ctx = context.WithValue(ctx, middleware.ContextKeySubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		blID, ok := h.baseLocaleID(w, r)
		if !ok {
			return
		}
		bl, err := h.service.Get(ctx, blID)
		if err != nil {
			h.writeFailure(ctx, w, "failed to load base locale", err)
			return
		}
		if !secrets.Verify(bl.TokenHash, token) {
			h.logger.WarnContext(ctx, "unauthorized access - invalid token",
				"request_id", middleware.GetRequestID(ctx),
				"base_locale_id", blID.String())
			shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createRequest struct {
	Name        string   `json:"name"`
	CommuneCode string   `json:"communeCode"`
	Emails      []string `json:"emails"`
}

// createResponse carries the one-time plaintext admin token alongside the
// created base locale.
type createResponse struct {
	*models.BaseLocale
	Token string `json:"token"`
}

type validatePinRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	bl, token, err := h.service.Create(ctx, req.Name, req.CommuneCode, req.Emails)
	if err != nil {
		h.writeFailure(ctx, w, "failed to create base locale", err)
		return
	}

	h.metrics.IncrementBasesCreated()
	shared.WriteJSON(w, http.StatusCreated, createResponse{BaseLocale: bl, Token: token})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	bl, err := h.service.Get(ctx, blID)
	if err != nil {
		h.writeFailure(ctx, w, "failed to load base locale", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, bl)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}
	opts := engine.Options{Force: r.URL.Query().Get("force") == "true"}
	if opts.Force {
		// Forced reconciliations skip the interval check, so keep a trace of
		// who asked for one.
		h.logger.InfoContext(ctx, "forced sync requested",
			"base_locale_id", blID,
			"subject", middleware.GetSubject(ctx),
			"request_id", middleware.GetRequestID(ctx),
		)
	}

	bl, err := h.sync.Reconcile(ctx, blID, opts)
	if err != nil {
		h.writeFailure(ctx, w, "reconciliation failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, bl)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	bl, err := h.sync.Pause(ctx, blID)
	if err != nil {
		h.writeFailure(ctx, w, "failed to pause sync", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, bl)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	bl, err := h.sync.Resume(ctx, blID)
	if err != nil {
		h.writeFailure(ctx, w, "failed to resume sync", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, bl)
}

func (h *Handler) handleCreateHabilitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	hab, err := h.service.CreateHabilitation(ctx, blID)
	if err != nil {
		h.writeFailure(ctx, w, "failed to create habilitation", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, hab)
}

func (h *Handler) handleGetHabilitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	hab, err := h.service.GetHabilitation(ctx, blID)
	if err != nil {
		h.writeFailure(ctx, w, "failed to load habilitation", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, hab)
}

func (h *Handler) handleSendPin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	if err := h.service.SendPin(ctx, blID); err != nil {
		h.writeFailure(ctx, w, "failed to send pin code", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleValidatePin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	blID, ok := h.baseLocaleID(w, r)
	if !ok {
		return
	}

	var req validatePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	hab, err := h.service.ValidatePin(ctx, blID, req.Code)
	if err != nil {
		h.writeFailure(ctx, w, "failed to validate pin code", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, hab)
}

func (h *Handler) baseLocaleID(w http.ResponseWriter, r *http.Request) (id.BaseLocaleID, bool) {
	blID, err := id.ParseBaseLocaleID(chi.URLParam(r, "baseLocaleID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid base locale id"))
		return id.BaseLocaleID{}, false
	}
	return blID, true
}

// writeFailure logs at a level matching the error class and writes the
// response. Client-caused failures stay out of the error log.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := middleware.GetRequestID(ctx)
	if shared.StatusOf(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
	}
	shared.WriteError(w, err)
}
