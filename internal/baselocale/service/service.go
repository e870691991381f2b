// Package service carries the base locale lifecycle operations that are not
// reconciliation: creation, lookup, and the habilitation (publication grant)
// flow against the deposit service.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"balregistry/internal/baselocale/models"
	"balregistry/internal/deposit"
	id "balregistry/pkg/domain"
	dErrors "balregistry/pkg/domain-errors"
	"balregistry/pkg/platform/sentinel"
	"balregistry/pkg/requestcontext"
	"balregistry/pkg/secrets"
)

// Store is the slice of the base locale store the service needs.
type Store interface {
	Create(ctx context.Context, bl *models.BaseLocale) error
	FindByID(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error)
	Execute(ctx context.Context, blID id.BaseLocaleID,
		validate func(*models.BaseLocale) error,
		mutate func(*models.BaseLocale),
		inTx ...func(context.Context, *models.BaseLocale) error) (*models.BaseLocale, error)
}

// Service keeps orchestration out of handlers and domain logic thin.
type Service struct {
	store   Store
	gateway deposit.Client
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store Store, gateway deposit.Client, opts ...Option) *Service {
	s := &Service{
		store:   store,
		gateway: gateway,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new draft base locale. The returned string is the admin
// token in plaintext; it is only available here, the store keeps the hash.
func (s *Service) Create(ctx context.Context, name, communeCode string, emails []string) (*models.BaseLocale, string, error) {
	commune, err := id.ParseCommuneCode(communeCode)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid commune code")
	}

	bl, err := models.NewBaseLocale(id.NewBaseLocaleID(), name, commune, emails, requestcontext.Now(ctx))
	if err != nil {
		return nil, "", err
	}

	token, err := secrets.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("generate admin token: %w", err)
	}
	bl.TokenHash, err = secrets.Hash(token)
	if err != nil {
		return nil, "", fmt.Errorf("hash admin token: %w", err)
	}

	if err := s.store.Create(ctx, bl); err != nil {
		return nil, "", fmt.Errorf("create base locale: %w", err)
	}

	s.logger.InfoContext(ctx, "base locale created",
		"base_locale_id", bl.ID.String(),
		"commune_code", bl.CommuneCode.String())
	return bl, token, nil
}

// Get returns one base locale.
func (s *Service) Get(ctx context.Context, blID id.BaseLocaleID) (*models.BaseLocale, error) {
	bl, err := s.store.FindByID(ctx, blID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return bl, nil
}

// CreateHabilitation opens a new publication grant for the base locale's
// commune and attaches it. The grant starts pending; it becomes usable once
// validated through the PIN flow or franceconnect.
func (s *Service) CreateHabilitation(ctx context.Context, blID id.BaseLocaleID) (*deposit.Habilitation, error) {
	bl, err := s.store.FindByID(ctx, blID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if bl.Status == models.StatusDemo {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "demo base locale cannot be habilitated")
	}
	if bl.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "deleted base locale cannot be habilitated")
	}

	// An existing grant that is still valid must not be silently replaced.
	if bl.HasHabilitation() {
		current, err := s.gateway.GetHabilitation(ctx, bl.HabilitationID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("fetch current habilitation: %w", err)
		}
		if err == nil && current.IsAccepted() && !current.IsExpired(requestcontext.Now(ctx)) {
			return nil, dErrors.New(dErrors.CodeConflict, "base locale already has a valid habilitation")
		}
	}

	hab, err := s.gateway.CreateHabilitation(ctx, bl.CommuneCode)
	if err != nil {
		return nil, fmt.Errorf("create habilitation for commune %s: %w", bl.CommuneCode, err)
	}

	if _, err := s.store.Execute(ctx, blID, nil, func(b *models.BaseLocale) {
		b.HabilitationID = hab.ID
	}); err != nil {
		return nil, translateStoreErr(err)
	}

	s.logger.InfoContext(ctx, "habilitation attached",
		"base_locale_id", blID.String(),
		"habilitation_id", hab.ID.String())
	return hab, nil
}

// GetHabilitation returns the remote state of the attached grant.
func (s *Service) GetHabilitation(ctx context.Context, blID id.BaseLocaleID) (*deposit.Habilitation, error) {
	bl, err := s.store.FindByID(ctx, blID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if !bl.HasHabilitation() {
		return nil, dErrors.New(dErrors.CodeNotFound, "base locale has no habilitation")
	}

	hab, err := s.gateway.GetHabilitation(ctx, bl.HabilitationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "habilitation not found")
		}
		return nil, fmt.Errorf("fetch habilitation: %w", err)
	}
	return hab, nil
}

// SendPin asks the deposit service to mail the validation PIN to the
// commune's registered mailbox.
func (s *Service) SendPin(ctx context.Context, blID id.BaseLocaleID) error {
	bl, err := s.store.FindByID(ctx, blID)
	if err != nil {
		return translateStoreErr(err)
	}
	if !bl.HasHabilitation() {
		return dErrors.New(dErrors.CodePreconditionFailed, "base locale has no habilitation")
	}

	if err := s.gateway.SendPinCode(ctx, bl.HabilitationID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "habilitation not found")
		}
		return fmt.Errorf("send pin code: %w", err)
	}
	return nil
}

// ValidatePin submits the PIN and returns the updated grant.
func (s *Service) ValidatePin(ctx context.Context, blID id.BaseLocaleID, code string) (*deposit.Habilitation, error) {
	if code == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pin code cannot be empty")
	}

	bl, err := s.store.FindByID(ctx, blID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if !bl.HasHabilitation() {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "base locale has no habilitation")
	}

	hab, err := s.gateway.ValidatePinCode(ctx, bl.HabilitationID, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "habilitation not found")
		}
		return nil, fmt.Errorf("validate pin code: %w", err)
	}

	if hab.IsAccepted() {
		s.logger.InfoContext(ctx, "habilitation validated",
			"base_locale_id", blID.String(),
			"habilitation_id", hab.ID.String())
	}
	return hab, nil
}

func translateStoreErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "base locale not found")
	}
	return err
}
