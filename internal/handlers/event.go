package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PratikDhanave/email-event-registry/internal/auth"
	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
)

// Registrar is the registration core the handlers drive.
type Registrar interface {
	LookupOpenEvent(ctx context.Context, messageID, instanceID, contactID uuid.UUID) (time.Time, bool, error)
	LookupClickEvent(ctx context.Context, messageID, instanceID, contactID uuid.UUID, link string) (time.Time, bool, error)
	RegisterOpen(ctx context.Context, messageID, instanceID, contactID uuid.UUID, protection time.Duration) (models.RegistrationResult, error)
	RegisterClick(ctx context.Context, messageID, instanceID, contactID uuid.UUID, link string, protection time.Duration) (models.RegistrationResult, error)
}

// Options tunes the event routes.
type Options struct {
	// DefaultProtection applies when a request omits protection_interval.
	DefaultProtection time.Duration
	// Timeout bounds each storage round trip. Zero means no extra bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

type eventHandler struct {
	reg  Registrar
	opts Options
}

// RegisterEventRoutes registers the registration and lookup endpoints.
//
// POST /events/open, POST /events/click
// - 201 on first registration, 200 otherwise (including duplicates)
// GET /events/open, GET /events/click
// - 200 with the stored timestamp, 404 when nothing is registered
func RegisterEventRoutes(r gin.IRoutes, reg Registrar, opts Options) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &eventHandler{reg: reg, opts: opts}

	r.POST("/events/open", h.registerOpen)
	r.POST("/events/click", h.registerClick)
	r.GET("/events/open", h.lookupOpen)
	r.GET("/events/click", h.lookupClick)
}

func (h *eventHandler) registerOpen(c *gin.Context) {
	var req models.RegisterOpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	ids, ok := parseIDs(c, req.MessageID, req.InstanceID, req.ContactID)
	if !ok {
		return
	}
	protection, ok := h.protection(c, req.ProtectionInterval)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.reg.RegisterOpen(ctx, ids[0], ids[1], ids[2], protection)
	if err != nil {
		h.fail(c, "register open", err)
		return
	}
	writeRegistration(c, res)
}

func (h *eventHandler) registerClick(c *gin.Context) {
	var req models.RegisterClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if req.Link == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "link required"})
		return
	}

	ids, ok := parseIDs(c, req.MessageID, req.InstanceID, req.ContactID)
	if !ok {
		return
	}
	protection, ok := h.protection(c, req.ProtectionInterval)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	res, err := h.reg.RegisterClick(ctx, ids[0], ids[1], ids[2], req.Link, protection)
	if err != nil {
		h.fail(c, "register click", err)
		return
	}
	writeRegistration(c, res)
}

func (h *eventHandler) lookupOpen(c *gin.Context) {
	ids, ok := parseIDs(c, c.Query("message_id"), c.Query("instance_id"), c.Query("contact_id"))
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	ts, found, err := h.reg.LookupOpenEvent(ctx, ids[0], ids[1], ids[2])
	if err != nil {
		h.fail(c, "lookup open", err)
		return
	}
	writeLookup(c, ts, found)
}

func (h *eventHandler) lookupClick(c *gin.Context) {
	link := c.Query("link")
	if link == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "link required"})
		return
	}
	ids, ok := parseIDs(c, c.Query("message_id"), c.Query("instance_id"), c.Query("contact_id"))
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	ts, found, err := h.reg.LookupClickEvent(ctx, ids[0], ids[1], ids[2], link)
	if err != nil {
		h.fail(c, "lookup click", err)
		return
	}
	writeLookup(c, ts, found)
}

func (h *eventHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.opts.Timeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.opts.Timeout)
	}
	return context.WithCancel(c.Request.Context())
}

// protection parses a duration string, falling back to the configured default.
// Negative values are passed through so the registry rejects them.
func (h *eventHandler) protection(c *gin.Context, raw string) (time.Duration, bool) {
	if raw == "" {
		return h.opts.DefaultProtection, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "protection_interval must be a duration such as \"30s\""})
		return 0, false
	}
	return d, true
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *eventHandler) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		status = http.StatusBadRequest
	case errs.KindStorageUnavailable:
		status = http.StatusServiceUnavailable
	}

	level := slog.LevelWarn
	if status == http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.opts.Logger.Log(c.Request.Context(), level, "request failed",
		"op", op,
		"caller", auth.Caller(c),
		"status", status,
		"error", err)

	// Storage detail stays in the log line.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
		if kind := errs.KindOf(err); kind != 0 {
			msg = kind.String()
		}
	}
	c.JSON(status, gin.H{"error": msg})
}

var idFields = [3]string{"message_id", "instance_id", "contact_id"}

func parseIDs(c *gin.Context, raw ...string) ([3]uuid.UUID, bool) {
	var ids [3]uuid.UUID
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": idFields[i] + " must be a UUID"})
			return ids, false
		}
		ids[i] = id
	}
	return ids, true
}

func writeRegistration(c *gin.Context, res models.RegistrationResult) {
	status := http.StatusOK
	if res.IsFirstRegistration {
		status = http.StatusCreated
	}
	c.JSON(status, models.RegistrationResponse{
		Timestamp:           res.Timestamp.UTC().Format(time.RFC3339Nano),
		IsDuplicate:         res.IsDuplicate,
		IsFirstRegistration: res.IsFirstRegistration,
	})
}

func writeLookup(c *gin.Context, ts time.Time, found bool) {
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no registration found"})
		return
	}
	c.JSON(http.StatusOK, models.LookupResponse{Timestamp: ts.UTC().Format(time.RFC3339Nano)})
}
