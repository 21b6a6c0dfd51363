package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccessLevel is the outcome of a policy evaluation for one principal
// and one intent.
type AccessLevel string

const (
	AccessFull     AccessLevel = "full"
	AccessRedacted AccessLevel = "redacted"
	AccessDenied   AccessLevel = "denied"
)

// Wildcard grants a permission to every principal.
const Wildcard = "*"

// Permissions are four disjoint grants. Membership is a principal id or
// the wildcard. The owner implicitly holds all four regardless of these
// lists.
type Permissions struct {
	Read   []string `json:"read,omitempty" cbor:"read,omitempty"`
	Write  []string `json:"write,omitempty" cbor:"write,omitempty"`
	Derive []string `json:"derive,omitempty" cbor:"derive,omitempty"`
	Share  []string `json:"share,omitempty" cbor:"share,omitempty"`
}

// Constraints bound a policy to a validity window and to intents.
type Constraints struct {
	NotBefore   *time.Time `json:"not_before,omitempty" cbor:"not_before,omitempty"`
	NotAfter    *time.Time `json:"not_after,omitempty" cbor:"not_after,omitempty"`
	IntentAllow []string   `json:"intent_allow,omitempty" cbor:"intent_allow,omitempty"`
	IntentDeny  []string   `json:"intent_deny,omitempty" cbor:"intent_deny,omitempty"`
}

// Redaction downgrades non-owner access instead of denying it.
type Redaction struct {
	Enabled     bool     `json:"enabled" cbor:"enabled"`
	Fields      []string `json:"fields,omitempty" cbor:"fields,omitempty"`
	Replacement string   `json:"replacement,omitempty" cbor:"replacement,omitempty"`
}

// AccessPolicy is the consent record envelopes reference. Outside its
// validity window or for a denied intent, every check fails closed.
type AccessPolicy struct {
	ID          uuid.UUID   `json:"policy_id" cbor:"policy_id"`
	OwnerID     string      `json:"owner_id" cbor:"owner_id"`
	Principals  []string    `json:"principals,omitempty" cbor:"principals,omitempty"`
	Permissions Permissions `json:"permissions" cbor:"permissions"`
	Constraints Constraints `json:"constraints" cbor:"constraints"`
	Redaction   Redaction   `json:"redaction" cbor:"redaction"`
	CreatedAt   time.Time   `json:"created_at" cbor:"created_at"`
}

func (p *AccessPolicy) Validate() error {
	if p.ID == uuid.Nil {
		return errors.New("policy: id is required")
	}
	if p.OwnerID == "" {
		return errors.New("policy: owner id is required")
	}
	return nil
}

// AccessLevel evaluates the policy for a principal and intent at a
// point in time. The check order is load-bearing: window validity and
// intent matching must deny before any permission lookup, so a stale
// policy whose lists still name a principal cannot leak access.
func (p *AccessPolicy) AccessLevel(principal, intent string, now time.Time) AccessLevel {
	if p.Constraints.NotBefore != nil && now.Before(*p.Constraints.NotBefore) {
		return AccessDenied
	}
	if p.Constraints.NotAfter != nil && now.After(*p.Constraints.NotAfter) {
		return AccessDenied
	}
	if intentMatches(intent, p.Constraints.IntentDeny) {
		return AccessDenied
	}
	if len(p.Constraints.IntentAllow) > 0 && !intentMatches(intent, p.Constraints.IntentAllow) {
		return AccessDenied
	}
	if principal != p.OwnerID && !grants(p.Permissions.Read, principal) {
		return AccessDenied
	}
	if p.Redaction.Enabled && principal != p.OwnerID {
		return AccessRedacted
	}
	return AccessFull
}

// grants reports whether a permission list names the principal or the
// wildcard.
func grants(list []string, principal string) bool {
	for _, entry := range list {
		if entry == Wildcard || entry == principal {
			return true
		}
	}
	return false
}

// intentMatches reports whether the intent contains any list entry,
// case-insensitively. Entries are phrases, not exact intents, so
// "medical" matches "review my medical history".
func intentMatches(intent string, list []string) bool {
	lowered := strings.ToLower(intent)
	for _, entry := range list {
		if entry == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}
