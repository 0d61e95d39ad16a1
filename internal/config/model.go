// internal/config/model.go
//
// Typed configuration model for the sync daemon.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/global.yaml`                        – primary static file,
//   • `SATLINK_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the secrets client at the point of use (webhook secrets), so the
// model may store either plain strings or Vault URIs.
//
// Validation happens immediately after unmarshal; the daemon fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`; Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.  AdminToken guards GET /sync/status.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	AdminToken string `koanf:"admin_token"`
}

//
// Database section
//

// Database holds the MySQL DSN for the local store.
type Database struct {
	DSN string `koanf:"dsn" validate:"required"`
}

//
// Sync section
//

// Sync holds the engine tunables.  Zero values are replaced with the
// documented defaults by applyDefaults; the runtime sync_config table may
// override a recognized subset of these at run time.
type Sync struct {
	RealTime         bool          `koanf:"real_time"`
	BatchInterval    time.Duration `koanf:"batch_interval"`     // default 300s
	FullInterval     time.Duration `koanf:"full_interval"`      // default 3600s
	BatchSize        int           `koanf:"batch_size"`         // default 100
	SendTimeout      time.Duration `koanf:"send_timeout"`       // default 30s
	ReplayWindow     time.Duration `koanf:"replay_window"`      // default 300s
	MaxRetries       int           `koanf:"max_retries"`        // default 3
	QueueRetention   int           `koanf:"queue_retention"`    // days, default 7
	DataRetention    int           `koanf:"data_retention"`     // days, default 365
	ConflictStrategy string        `koanf:"conflict_strategy"`  // latest_wins|merge|manual
	Compress         bool          `koanf:"compress"`
	Encrypt          bool          `koanf:"encrypt"`
}

//
// Site section
//

// Site identifies this installation to its peers.  Origin is stamped as
// source_domain on every outbound payload and must match what peers have
// registered for this domain.
type Site struct {
	Origin string `koanf:"origin" validate:"required,url"`
}

//
// Geo section
//

// Geo points at an optional MaxMind database used to enrich analytics
// events.  Empty path disables geo lookups.
type Geo struct {
	DBPath string `koanf:"db_path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or SATLINK_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the daemon lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Site     Site     `koanf:"site"`
	Sync     Sync     `koanf:"sync"`
	Geo      Geo      `koanf:"geo"`
	Paths    Paths    `koanf:"-"`
}

// applyDefaults fills the documented defaults for any Sync field left at
// its zero value.  Booleans are left as unmarshalled, so an absent
// real_time/compress/encrypt key means off; the sample global.yaml ships
// all three on.
func applyDefaults(c *Config) {
	s := &c.Sync
	if s.BatchInterval == 0 {
		s.BatchInterval = 300 * time.Second
	}
	if s.FullInterval == 0 {
		s.FullInterval = 3600 * time.Second
	}
	if s.BatchSize == 0 {
		s.BatchSize = 100
	}
	if s.SendTimeout == 0 {
		s.SendTimeout = 30 * time.Second
	}
	if s.ReplayWindow == 0 {
		s.ReplayWindow = 300 * time.Second
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 3
	}
	if s.QueueRetention == 0 {
		s.QueueRetention = 7
	}
	if s.DataRetention == 0 {
		s.DataRetention = 365
	}
	if s.ConflictStrategy == "" {
		s.ConflictStrategy = "latest_wins"
	}
}
