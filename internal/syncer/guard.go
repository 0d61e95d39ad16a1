// internal/syncer/guard.go
//
// Per-cadence overlap guard.
//
// Context
// -------
// A cadence may not start while an earlier run of the same cadence is
// still in flight within this process.  The guard is an explicit struct
// constructed once at boot and injected into the orchestrator; there is no
// module-level state.
//
// The guard is process-local.  Two hosts can still run the same cadence
// concurrently; horizontal deployments need a database-level lease here.
// That is a known scaling gap, not an oversight.

package syncer

import (
	"sync"
	"time"
)

// Cadence names.  Real-time drains are not guarded; overlapping small
// drains are serialized by queue claims instead.
const (
	CadenceBatch = "batch"
	CadenceFull  = "full"
)

// RunMeta describes one in-flight run for the status endpoint.
type RunMeta struct {
	ID        string    `json:"id"`
	Cadence   string    `json:"cadence"`
	StartedAt time.Time `json:"started_at"`
}

// Guard holds the mutex-protected cadence → run map.
type Guard struct {
	mu     sync.Mutex
	active map[string]RunMeta
}

// NewGuard constructs an empty guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]RunMeta)}
}

// TryBegin claims the cadence.  It returns false, without blocking, when a
// run is already in flight.
func (g *Guard) TryBegin(meta RunMeta) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[meta.Cadence]; busy {
		return false
	}
	g.active[meta.Cadence] = meta
	return true
}

// End releases the cadence.  Callers defer this immediately after a
// successful TryBegin so a panicking run cannot wedge the cadence.
func (g *Guard) End(cadence string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, cadence)
}

// Active snapshots the in-flight runs.
func (g *Guard) Active() []RunMeta {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RunMeta, 0, len(g.active))
	for _, meta := range g.active {
		out = append(out, meta)
	}
	return out
}
