package models

// RegisterOpenRequest is the POST /events/open payload.
// protection_interval is a Go duration string ("30s", "1h"); when omitted the
// service default applies.
type RegisterOpenRequest struct {
	MessageID          string `json:"message_id"`
	InstanceID         string `json:"instance_id"`
	ContactID          string `json:"contact_id"`
	ProtectionInterval string `json:"protection_interval,omitempty"`
}

// RegisterClickRequest is the POST /events/click payload.
type RegisterClickRequest struct {
	RegisterOpenRequest
	Link string `json:"link"`
}

// RegistrationResponse is returned by both registration endpoints.
type RegistrationResponse struct {
	Timestamp           string `json:"timestamp"`
	IsDuplicate         bool   `json:"is_duplicate"`
	IsFirstRegistration bool   `json:"is_first_registration"`
}

// LookupResponse is returned by the lookup endpoints when a record exists.
type LookupResponse struct {
	Timestamp string `json:"timestamp"`
}
