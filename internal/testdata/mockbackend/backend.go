package mockbackend

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/PratikDhanave/email-event-registry/internal/models"
	"github.com/PratikDhanave/email-event-registry/internal/store"
)

type Backend struct {
	mock.Mock
}

// Interface compliance check
var _ store.Backend = &Backend{}

func (m *Backend) LastOpen(ctx context.Context, key models.OpenKey) (time.Time, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *Backend) LastClick(ctx context.Context, key models.ClickKey) (time.Time, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *Backend) UpsertOpen(ctx context.Context, key models.OpenKey, now, cutoff time.Time) (models.RegistrationResult, error) {
	args := m.Called(ctx, key, now, cutoff)
	return args.Get(0).(models.RegistrationResult), args.Error(1)
}

func (m *Backend) UpsertClick(ctx context.Context, key models.ClickKey, now, cutoff time.Time) (models.RegistrationResult, error) {
	args := m.Called(ctx, key, now, cutoff)
	return args.Get(0).(models.RegistrationResult), args.Error(1)
}

func (m *Backend) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Backend) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Backend) Close() error {
	return m.Called().Error(0)
}
