// internal/syncer/status.go
//
// GET /sync/status – operator view of the sync subsystem.
//
// Notes
// -----
// The endpoint is read-only but still gated: when an admin token is
// configured the request must carry it as a Bearer credential.  With no
// token configured the endpoint is open, which suits single-operator
// deployments behind a private network.

package syncer

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/config"
)

type statusResponse struct {
	SyncEnabled bool      `json:"sync_enabled"`
	Statistics  Stats     `json:"statistics"`
	ActiveSyncs []RunMeta `json:"active_syncs"`
	LastCheck   string    `json:"last_check"`
}

// StatusHandler reports sync health: run statistics, in-flight cadences,
// and the effective enabled flag.
type StatusHandler struct {
	db    *sqlx.DB
	conf  *config.Store
	guard *Guard
	token string
	log   *zap.SugaredLogger
}

// NewStatusHandler builds the /sync/status handler.  token may be empty.
func NewStatusHandler(db *sqlx.DB, conf *config.Store, guard *Guard, token string, log *zap.SugaredLogger) *StatusHandler {
	return &StatusHandler{db: db, conf: conf, guard: guard, token: token, log: log}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sync"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	stats, err := loadStats(ctx, h.db)
	if err != nil {
		h.log.Errorw("status query failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		SyncEnabled: h.conf.Bool(ctx, config.KeySyncEnabled, true),
		Statistics:  stats,
		ActiveSyncs: h.guard.Active(),
		LastCheck:   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Errorw("status encode failed", "err", err)
	}
}

func (h *StatusHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}
