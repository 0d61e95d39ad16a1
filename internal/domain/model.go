// internal/domain/model.go
//
// Satellite domain registry model.
//
// Context
// -------
// Every counterpart site in the network has one row in the `domain` table:
// where to reach it, the shared secret used to sign webhook traffic, and
// operational state.  The sync engine reads these rows and maintains the
// webhook failure counter; verification itself is owned by the admin
// tooling, not by this package.

package domain

import "time"

// Operational status values for a domain row.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
	StatusPending   = "pending"
)

// Verification states.
const (
	VerificationVerified   = "verified"
	VerificationUnverified = "unverified"
	VerificationFailed     = "failed"
)

// Record mirrors one row in the persistent `domain` table.
type Record struct {
	ID              uint64     `db:"id"`
	Name            string     `db:"name"`
	BaseURL         string     `db:"base_url"`
	WebhookURL      *string    `db:"webhook_url"`
	WebhookSecret   string     `db:"webhook_secret"`
	Status          string     `db:"status"`
	Verification    string     `db:"verification"`
	WebhookFailures int        `db:"webhook_failures"`
	LastActivityAt  *time.Time `db:"last_activity_at"`
	LastWebhookAt   *time.Time `db:"last_webhook_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Eligible reports whether the domain participates in sync: active,
// verified, and reachable via a webhook URL.
func (r *Record) Eligible() bool {
	return r.Status == StatusActive &&
		r.Verification == VerificationVerified &&
		r.WebhookURL != nil && *r.WebhookURL != ""
}
