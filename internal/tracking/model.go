// internal/tracking/model.go
//
// Local affiliate-tracking rows.
//
// Context
// -------
// These structs mirror the tables the sync engine reads from (outbound
// payload assembly) and writes to (inbound idempotent apply, local event
// hooks).  The `domain` columns hold the originating site host as a plain
// string; satellite networks reference each other by host, not by foreign
// key, since either side may learn about a site before its registry row
// exists.

package tracking

import "time"

// wireTime is the timestamp layout used in payload rows.  It matches MySQL
// DATETIME so values round-trip through the database without conversion.
const wireTime = "2006-01-02 15:04:05"

// Conversion is one attributed sale or signup.
type Conversion struct {
	ID        uint64    `db:"id"`
	Domain    string    `db:"domain"`
	Code      string    `db:"code"`
	Value     float64   `db:"value"`
	SessionID string    `db:"session_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Usage is one application of a vanity code inside a visitor session.
type Usage struct {
	ID           uint64    `db:"id"`
	VanityCodeID uint64    `db:"vanity_code_id"`
	SessionID    string    `db:"session_id"`
	Domain       string    `db:"domain"`
	CreatedAt    time.Time `db:"created_at"`
}

// AnalyticsEvent is an append-only visitor observation.  Browser, OS,
// device class, and country are filled by the event hooks from the
// User-Agent header and the optional GeoIP database.
type AnalyticsEvent struct {
	ID          uint64    `db:"id"`
	Domain      string    `db:"domain"`
	Event       string    `db:"event"`
	URL         string    `db:"url"`
	Browser     string    `db:"browser"`
	OS          string    `db:"os"`
	DeviceClass string    `db:"device_class"`
	Country     string    `db:"country"`
	CreatedAt   time.Time `db:"created_at"`
}

// VanityCode is the shared code definition itself.  Discount and
// commission rules live with the business layer, not here.
type VanityCode struct {
	ID        uint64    `db:"id"`
	Code      string    `db:"code"`
	Domain    string    `db:"domain"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}
