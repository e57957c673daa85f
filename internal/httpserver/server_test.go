package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/email-event-registry/internal/config"
	"github.com/PratikDhanave/email-event-registry/internal/models"
	"github.com/PratikDhanave/email-event-registry/internal/registry"
	"github.com/PratikDhanave/email-event-registry/internal/store"
)

////////////////////////////////////////////////////////////////////////////////
// These tests drive the router in-process:
//
//   Client → gin → Auth → Registry → SQLite → Response
////////////////////////////////////////////////////////////////////////////////

const testKey = "test-key"

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	backend, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	cfg := config.Config{
		APIKeys:                   map[string]string{testKey: "tests"},
		DefaultProtectionInterval: time.Hour,
		RequestTimeout:            5 * time.Second,
	}
	return NewRouter(cfg, backend, registry.New(backend), nil)
}

func do(t *testing.T, r http.Handler, method, path, apiKey string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func decodeRegistration(t *testing.T, b []byte) models.RegistrationResponse {
	t.Helper()
	var resp models.RegistrationResponse
	require.NoError(t, json.Unmarshal(b, &resp))
	return resp
}

func TestHealth_ReturnsOK(t *testing.T) {
	s, _ := do(t, newTestRouter(t), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, s)
}

func TestReady_ReflectsPing(t *testing.T) {
	s, _ := do(t, newTestRouter(t), http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, s)

	down := NewRouter(config.Config{}, pingFunc(func(context.Context) error { return errors.New("db down") }), nil, nil)
	s, b := do(t, down, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, s)
	assert.Contains(t, string(b), "not_ready")
	assert.NotContains(t, string(b), "db down")
}

func TestEvents_UnauthorizedWithoutAPIKey(t *testing.T) {
	r := newTestRouter(t)
	payload := models.RegisterOpenRequest{MessageID: uuid.NewString(), InstanceID: uuid.NewString(), ContactID: uuid.NewString()}

	s, _ := do(t, r, http.MethodPost, "/events/open", "", payload)
	assert.Equal(t, http.StatusUnauthorized, s)

	s, _ = do(t, r, http.MethodPost, "/events/open", "wrong", payload)
	assert.Equal(t, http.StatusUnauthorized, s)
}

func TestEvents_BadRequestOnInvalidPayload(t *testing.T) {
	r := newTestRouter(t)
	id := uuid.NewString()

	tests := []struct {
		name string
		path string
		body any
	}{
		{"bad uuid", "/events/open", models.RegisterOpenRequest{MessageID: "nope", InstanceID: id, ContactID: id}},
		{"missing contact", "/events/open", models.RegisterOpenRequest{MessageID: id, InstanceID: id}},
		{"nil uuid", "/events/open", models.RegisterOpenRequest{MessageID: uuid.Nil.String(), InstanceID: id, ContactID: id}},
		{"bad interval", "/events/open", models.RegisterOpenRequest{MessageID: id, InstanceID: id, ContactID: id, ProtectionInterval: "soon"}},
		{"negative interval", "/events/open", models.RegisterOpenRequest{MessageID: id, InstanceID: id, ContactID: id, ProtectionInterval: "-5s"}},
		{"missing link", "/events/click", models.RegisterClickRequest{RegisterOpenRequest: models.RegisterOpenRequest{MessageID: id, InstanceID: id, ContactID: id}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := do(t, r, http.MethodPost, tt.path, testKey, tt.body)
			assert.Equal(t, http.StatusBadRequest, s)
		})
	}
}

func TestOpen_FirstThenDuplicateThenLookup(t *testing.T) {
	r := newTestRouter(t)
	payload := models.RegisterOpenRequest{MessageID: uuid.NewString(), InstanceID: uuid.NewString(), ContactID: uuid.NewString()}

	s, b := do(t, r, http.MethodPost, "/events/open", testKey, payload)
	require.Equal(t, http.StatusCreated, s)
	first := decodeRegistration(t, b)
	assert.True(t, first.IsFirstRegistration)
	assert.False(t, first.IsDuplicate)

	s, b = do(t, r, http.MethodPost, "/events/open", testKey, payload)
	require.Equal(t, http.StatusOK, s)
	dup := decodeRegistration(t, b)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, first.Timestamp, dup.Timestamp)

	q := url.Values{"message_id": {payload.MessageID}, "instance_id": {payload.InstanceID}, "contact_id": {payload.ContactID}}
	s, b = do(t, r, http.MethodGet, "/events/open?"+q.Encode(), testKey, nil)
	require.Equal(t, http.StatusOK, s)
	var lookup models.LookupResponse
	require.NoError(t, json.Unmarshal(b, &lookup))
	assert.Equal(t, first.Timestamp, lookup.Timestamp)
}

func TestOpen_ZeroIntervalIsNeverDuplicate(t *testing.T) {
	r := newTestRouter(t)
	payload := models.RegisterOpenRequest{MessageID: uuid.NewString(), InstanceID: uuid.NewString(), ContactID: uuid.NewString(), ProtectionInterval: "0s"}

	s, _ := do(t, r, http.MethodPost, "/events/open", testKey, payload)
	require.Equal(t, http.StatusCreated, s)

	time.Sleep(2 * time.Millisecond)
	s, b := do(t, r, http.MethodPost, "/events/open", testKey, payload)
	require.Equal(t, http.StatusOK, s)
	resp := decodeRegistration(t, b)
	assert.False(t, resp.IsDuplicate)
	assert.False(t, resp.IsFirstRegistration)
}

func TestClick_CrossLinkAndLookup(t *testing.T) {
	r := newTestRouter(t)
	base := models.RegisterOpenRequest{MessageID: uuid.NewString(), InstanceID: uuid.NewString(), ContactID: uuid.NewString()}

	s, _ := do(t, r, http.MethodPost, "/events/click", testKey, models.RegisterClickRequest{RegisterOpenRequest: base, Link: "https://example.com/a"})
	require.Equal(t, http.StatusCreated, s)

	s, b := do(t, r, http.MethodPost, "/events/click", testKey, models.RegisterClickRequest{RegisterOpenRequest: base, Link: "https://example.com/b"})
	require.Equal(t, http.StatusOK, s)
	second := decodeRegistration(t, b)
	assert.False(t, second.IsFirstRegistration)
	assert.False(t, second.IsDuplicate)

	q := url.Values{"message_id": {base.MessageID}, "instance_id": {base.InstanceID}, "contact_id": {base.ContactID}, "link": {"https://example.com/b"}}
	s, _ = do(t, r, http.MethodGet, "/events/click?"+q.Encode(), testKey, nil)
	assert.Equal(t, http.StatusOK, s)

	q.Set("link", "https://example.com/never")
	s, _ = do(t, r, http.MethodGet, "/events/click?"+q.Encode(), testKey, nil)
	assert.Equal(t, http.StatusNotFound, s)

	q.Del("link")
	s, _ = do(t, r, http.MethodGet, "/events/click?"+q.Encode(), testKey, nil)
	assert.Equal(t, http.StatusBadRequest, s)
}
