// Package registry registers email opens and link clicks.
//
// Each registration is an atomic insert-or-update that tells the caller
// whether the event fell inside the duplicate-protection window and whether
// it was the first of its kind. Lookups are advisory and never decide those
// flags.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
	"github.com/PratikDhanave/email-event-registry/internal/store"
)

const (
	opRegisterOpen  = "register open"
	opRegisterClick = "register click"
)

// Cache is an optional read-side cache kept warm by registrations.
type Cache interface {
	store.Reader
	RememberOpen(ctx context.Context, key models.OpenKey, ts time.Time)
	RememberClick(ctx context.Context, key models.ClickKey, ts time.Time)
}

// Registry runs the registration protocol against a store.Backend.
// It is safe for concurrent use.
type Registry struct {
	backend store.Backend
	cache   Cache
	now     func() time.Time
	logger  *slog.Logger
	gate    *guard
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCache routes lookups through c and refreshes it after registrations.
func WithCache(c Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// New builds a Registry over backend.
func New(backend store.Backend, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
		gate:    clickGate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) reader() store.Reader {
	if r.cache != nil {
		return r.cache
	}
	return r.backend
}

// LookupOpenEvent returns the stored timestamp of an open, if any.
func (r *Registry) LookupOpenEvent(ctx context.Context, messageID, instanceID, contactID uuid.UUID) (time.Time, bool, error) {
	key, err := models.NewOpenKey(messageID, instanceID, contactID)
	if err != nil {
		return time.Time{}, false, err
	}
	return r.reader().LastOpen(ctx, key)
}

// LookupClickEvent returns the stored timestamp of a click on link, if any.
func (r *Registry) LookupClickEvent(ctx context.Context, messageID, instanceID, contactID uuid.UUID, link string) (time.Time, bool, error) {
	key, err := models.NewClickKey(messageID, instanceID, contactID, link)
	if err != nil {
		return time.Time{}, false, err
	}
	return r.reader().LastClick(ctx, key)
}

// RegisterOpen records that contactID opened the message instance.
//
// Opens are not routed through the click gate: their first-registration flag
// depends only on their own key, which the backend's uniqueness constraint
// already decides.
func (r *Registry) RegisterOpen(ctx context.Context, messageID, instanceID, contactID uuid.UUID, protection time.Duration) (models.RegistrationResult, error) {
	key, err := models.NewOpenKey(messageID, instanceID, contactID)
	if err != nil {
		return models.RegistrationResult{}, err
	}
	if err := checkProtection(opRegisterOpen, protection); err != nil {
		return models.RegistrationResult{}, err
	}

	now, cutoff := r.window(protection)
	res, err := r.backend.UpsertOpen(ctx, key, now, cutoff)
	if err != nil {
		return models.RegistrationResult{}, err
	}
	if err := checkResult(opRegisterOpen, key.String(), res); err != nil {
		return models.RegistrationResult{}, err
	}

	r.logger.DebugContext(ctx, "open registered",
		"key", key.String(),
		"timestamp", res.Timestamp,
		"duplicate", res.IsDuplicate,
		"first", res.IsFirstRegistration)

	if r.cache != nil {
		r.cache.RememberOpen(ctx, key, res.Timestamp)
	}
	return res, nil
}

// RegisterClick records that contactID clicked link in the message instance.
// IsFirstRegistration is true only for the contact's first click of any link.
func (r *Registry) RegisterClick(ctx context.Context, messageID, instanceID, contactID uuid.UUID, link string, protection time.Duration) (models.RegistrationResult, error) {
	key, err := models.NewClickKey(messageID, instanceID, contactID, link)
	if err != nil {
		return models.RegistrationResult{}, err
	}
	if err := checkProtection(opRegisterClick, protection); err != nil {
		return models.RegistrationResult{}, err
	}

	var res models.RegistrationResult
	err = r.gate.Do(ctx, opRegisterClick, key.String(), func() error {
		now, cutoff := r.window(protection)
		var err error
		res, err = r.backend.UpsertClick(ctx, key, now, cutoff)
		return err
	})
	if err != nil {
		return models.RegistrationResult{}, err
	}
	if err := checkResult(opRegisterClick, key.String(), res); err != nil {
		return models.RegistrationResult{}, err
	}

	r.logger.DebugContext(ctx, "click registered",
		"key", key.String(),
		"timestamp", res.Timestamp,
		"duplicate", res.IsDuplicate,
		"first", res.IsFirstRegistration)

	if r.cache != nil {
		r.cache.RememberClick(ctx, key, res.Timestamp)
	}
	return res, nil
}

// window returns now and the protection cutoff, at the microsecond
// precision the backends persist.
func (r *Registry) window(protection time.Duration) (now, cutoff time.Time) {
	now = r.now().UTC().Truncate(time.Microsecond)
	return now, now.Add(-protection)
}

func checkProtection(op string, protection time.Duration) error {
	if protection < 0 {
		return errs.InvalidArgument(op, "protectionInterval", "must not be negative")
	}
	return nil
}

func checkResult(op, key string, res models.RegistrationResult) error {
	switch {
	case res.Timestamp.IsZero():
		return errs.CorruptResponse(op, key, "result carries no timestamp", nil)
	case res.IsDuplicate && res.IsFirstRegistration:
		return errs.CorruptResponse(op, key, "result is both duplicate and first registration", nil)
	}
	return nil
}
