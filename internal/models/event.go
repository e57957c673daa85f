package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
)

// LinkHash is the fixed-width identity of a clicked link.
// Two links with the same digest are treated as the same link.
type LinkHash [md5.Size]byte

// HashLink digests the exact UTF-8 bytes of link. No normalization is applied;
// callers that want "http://a/" and "http://a" to match must canonicalize first.
func HashLink(link string) LinkHash {
	return LinkHash(md5.Sum([]byte(link)))
}

func (h LinkHash) String() string {
	return hex.EncodeToString(h[:])
}

// OpenKey identifies an email open: one per message, send instance and contact.
type OpenKey struct {
	MessageID  uuid.UUID
	InstanceID uuid.UUID
	ContactID  uuid.UUID
}

// NewOpenKey builds an OpenKey, rejecting nil identifiers.
func NewOpenKey(messageID, instanceID, contactID uuid.UUID) (OpenKey, error) {
	k := OpenKey{MessageID: messageID, InstanceID: instanceID, ContactID: contactID}
	return k, k.Validate()
}

// Validate returns errs.KindInvalidArgument when any identifier is uuid.Nil.
func (k OpenKey) Validate() error {
	switch {
	case k.MessageID == uuid.Nil:
		return errs.InvalidArgument("event key", "messageId", "required")
	case k.InstanceID == uuid.Nil:
		return errs.InvalidArgument("event key", "instanceId", "required")
	case k.ContactID == uuid.Nil:
		return errs.InvalidArgument("event key", "contactId", "required")
	}
	return nil
}

func (k OpenKey) String() string {
	return k.MessageID.String() + "/" + k.InstanceID.String() + "/" + k.ContactID.String()
}

// ClickKey identifies a click on one link by one contact of one send instance.
type ClickKey struct {
	OpenKey
	LinkHash LinkHash
}

// NewClickKey hashes link and builds a ClickKey. An empty link is rejected.
func NewClickKey(messageID, instanceID, contactID uuid.UUID, link string) (ClickKey, error) {
	k := ClickKey{
		OpenKey: OpenKey{MessageID: messageID, InstanceID: instanceID, ContactID: contactID},
	}
	if err := k.OpenKey.Validate(); err != nil {
		return k, err
	}
	if link == "" {
		return k, errs.InvalidArgument("event key", "link", "required")
	}
	k.LinkHash = HashLink(link)
	return k, nil
}

// Contact returns the (message, instance, contact) triple shared by every
// click of the same recipient on the same send.
func (k ClickKey) Contact() OpenKey { return k.OpenKey }

func (k ClickKey) String() string {
	return k.OpenKey.String() + "/" + k.LinkHash.String()
}

// RegistrationResult is the outcome of a registration call. It is never persisted.
// IsDuplicate and IsFirstRegistration are never both true.
type RegistrationResult struct {
	// Timestamp is the value now stored for the key.
	Timestamp time.Time
	// IsDuplicate is set when the call fell inside the protection window
	// and left the stored timestamp untouched.
	IsDuplicate bool
	// IsFirstRegistration is set when no record existed before the call.
	// For clicks it also requires that the contact had clicked no other link.
	IsFirstRegistration bool
}
