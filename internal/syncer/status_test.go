package syncer

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/config"
)

func statusFixture(t *testing.T, token string) (*StatusHandler, sqlmock.Sqlmock, *Guard) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	db := sqlx.NewDb(raw, "mysql")
	guard := NewGuard()
	return NewStatusHandler(db, config.NewStore(db), guard, token, zap.NewNop().Sugar()), mock, guard
}

func TestStatusRequiresBearerToken(t *testing.T) {
	h, _, _ := statusFixture(t, "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sync/status", nil))
	if rec.Code != 401 {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sync/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("wrong token: status %d, want 401", rec.Code)
	}
}

func TestStatusReportsRunsAndActiveCadences(t *testing.T) {
	h, mock, guard := statusFixture(t, "s3cret")

	guard.TryBegin(RunMeta{ID: "b1", Cadence: CadenceBatch, StartedAt: time.Now()})

	last := time.Now().Add(-time.Minute)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total_syncs").
		WillReturnRows(sqlmock.NewRows(
			[]string{"total_syncs", "successful_syncs", "failed_syncs", "last_sync"}).
			AddRow(12, 10, 2, last))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sync/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.SyncEnabled {
		t.Fatal("sync_enabled should default to true")
	}
	if resp.Statistics.TotalSyncs != 12 || resp.Statistics.FailedSyncs != 2 {
		t.Fatalf("statistics = %+v", resp.Statistics)
	}
	if len(resp.ActiveSyncs) != 1 || resp.ActiveSyncs[0].Cadence != CadenceBatch {
		t.Fatalf("active_syncs = %+v", resp.ActiveSyncs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
