// internal/transport/receiver_test.go
//
// Unit-tests for the inbound webhook gauntlet.
//
// Workflow / Structure
// --------------------
// fakeResolver ── returns a canned domain for one origin, ErrNotFound
// otherwise, so tests never touch the registry cache or a database.
// fakeImporter ── records every Apply call.
//
// Each test:
//
//  1. Builds a signed (or deliberately mis-signed) request.
//  2. Fires it through Receiver.ServeHTTP via httptest.
//  3. Asserts status code and side effects.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/AdeptTravel/satlink/internal/codec"
	"github.com/AdeptTravel/satlink/internal/config"
	"github.com/AdeptTravel/satlink/internal/domain"
)

const (
	testOrigin = "https://sat-a.example"
	testSecret = "shared-webhook-secret"
)

type fakeResolver struct{ rec *domain.Record }

func (f *fakeResolver) ByOrigin(_ context.Context, origin string) (*domain.Record, error) {
	norm, err := domain.NormalizeOrigin(origin)
	if err != nil || norm != testOrigin {
		return nil, domain.ErrNotFound
	}
	return f.rec, nil
}

type fakeImporter struct {
	calls int
	dt    codec.DataType
	rows  []codec.Row
	err   error
}

func (f *fakeImporter) Apply(_ context.Context, dt codec.DataType, _ *domain.Record, rows []codec.Row) (int, error) {
	f.calls++
	f.dt = dt
	f.rows = rows
	return len(rows), f.err
}

func testDomain() *domain.Record {
	hook := testOrigin + "/sync/webhook"
	return &domain.Record{
		ID:            1,
		Name:          "sat-a",
		BaseURL:       testOrigin,
		WebhookURL:    &hook,
		WebhookSecret: testSecret,
		Status:        domain.StatusActive,
		Verification:  domain.VerificationVerified,
	}
}

func newReceiver(t *testing.T, imp Importer) (*Receiver, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { raw.Close() })

	conf := config.NewStore(sqlx.NewDb(raw, "mysql"))
	rc := NewReceiver(&fakeResolver{rec: testDomain()}, imp, conf, nil,
		300*time.Second, zap.NewNop().Sugar())
	return rc, mock
}

// fire builds a POST /sync/webhook with the given body and headers and
// returns the recorder.
func fire(rc *Receiver, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sync/webhook", bytes.NewReader(body))
	req.Header.Set("Origin", testOrigin)
	req.Header.Set(HeaderSignature, Sign(body, testSecret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	rc.ServeHTTP(rr, req)
	return rr
}

func encodeTestPayload(t *testing.T, p *codec.Payload, opts codec.Options) []byte {
	t.Helper()
	body, err := codec.Encode(p, testSecret, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return body
}

func TestReceive_TestPayloadAck(t *testing.T) {
	imp := &fakeImporter{}
	rc, _ := newReceiver(t, imp)

	body := encodeTestPayload(t, &codec.Payload{
		SyncType:     codec.SyncTest,
		Timestamp:    time.Now().Unix(),
		SourceDomain: testOrigin,
	}, codec.Options{})

	rr := fire(rc, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || !resp.Success {
		t.Fatalf("want success ack, got %s", rr.Body.String())
	}
	if imp.calls != 0 {
		t.Fatalf("test payload must not touch the importer")
	}
}

func TestReceive_MissingSignature(t *testing.T) {
	rc, _ := newReceiver(t, &fakeImporter{})
	body := encodeTestPayload(t, &codec.Payload{SyncType: codec.SyncTest, Timestamp: 1}, codec.Options{})

	rr := fire(rc, body, func(r *http.Request) { r.Header.Del(HeaderSignature) })
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestReceive_WrongSignature(t *testing.T) {
	rc, _ := newReceiver(t, &fakeImporter{})
	body := encodeTestPayload(t, &codec.Payload{SyncType: codec.SyncTest, Timestamp: 1}, codec.Options{})

	rr := fire(rc, body, func(r *http.Request) {
		r.Header.Set(HeaderSignature, Sign(body, "some-other-secret"))
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestReceive_StaleTimestamp(t *testing.T) {
	rc, _ := newReceiver(t, &fakeImporter{})
	body := encodeTestPayload(t, &codec.Payload{SyncType: codec.SyncTest, Timestamp: 1}, codec.Options{})

	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	rr := fire(rc, body, func(r *http.Request) { r.Header.Set(HeaderTimestamp, stale) })
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestReceive_UnknownOrigin(t *testing.T) {
	rc, _ := newReceiver(t, &fakeImporter{})
	body := encodeTestPayload(t, &codec.Payload{SyncType: codec.SyncTest, Timestamp: 1}, codec.Options{})

	rr := fire(rc, body, func(r *http.Request) {
		r.Header.Set("Origin", "https://nobody.example")
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestReceive_CorruptBody(t *testing.T) {
	rc, _ := newReceiver(t, &fakeImporter{})

	// Correctly signed, but the framing is garbage.
	body := []byte(`{"compressed":true,"data":"!!!"}`)
	rr := fire(rc, body, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestReceive_DataSyncDispatch(t *testing.T) {
	imp := &fakeImporter{}
	rc, _ := newReceiver(t, imp)

	rows := []codec.Row{{"code": "FALL10", "value": 20.5, "session_id": "s1"}}
	body := encodeTestPayload(t, &codec.Payload{
		SyncType:     codec.SyncData,
		DataType:     codec.DataConversion,
		Data:         rows,
		Timestamp:    time.Now().Unix(),
		SourceDomain: testOrigin,
		Checksum:     codec.Checksum(rows),
	}, codec.Options{Encrypt: true, Compress: true})

	rr := fire(rc, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if imp.calls != 1 || imp.dt != codec.DataConversion || len(imp.rows) != 1 {
		t.Fatalf("importer saw calls=%d dt=%q rows=%d", imp.calls, imp.dt, len(imp.rows))
	}
}

func TestReceive_ConfigurationAllowlist(t *testing.T) {
	rc, mock := newReceiver(t, &fakeImporter{})

	// Only the recognized key may reach the table.
	mock.ExpectExec("INSERT INTO sync_config").
		WithArgs(config.KeyRealTimeSync, "false").
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := encodeTestPayload(t, &codec.Payload{
		SyncType: codec.SyncConfiguration,
		Configuration: map[string]string{
			config.KeyRealTimeSync: "false",
			"evil_key":             "drop table",
		},
		Timestamp:    time.Now().Unix(),
		SourceDomain: testOrigin,
	}, codec.Options{})

	rr := fire(rc, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
