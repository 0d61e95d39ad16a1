// internal/codec/payload.go
//
// Wire payload model and content checksum.
//
// Context
// -------
// A SyncPayload is the unit exchanged between domains.  It is never
// persisted; the queue stores the raw rows and the payload is rebuilt at
// send time.  sync_type and data_type are closed string enums so dispatch
// sites can switch exhaustively instead of branching on free-form strings.

package codec

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// SyncType discriminates what an inbound payload asks the receiver to do.
type SyncType string

const (
	SyncData          SyncType = "data_sync"
	SyncConfiguration SyncType = "configuration_sync"
	SyncTest          SyncType = "test"
)

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	switch t {
	case SyncData, SyncConfiguration, SyncTest:
		return true
	}
	return false
}

// DataType identifies the kind of rows carried by a data_sync payload and
// the kind of work parked in the sync queue.
type DataType string

const (
	DataConversion DataType = "conversion"
	DataUsage      DataType = "usage"
	DataAnalytics  DataType = "analytics"
	DataVanityCode DataType = "vanity_code"
	DataSyncMarker DataType = "sync_marker"
)

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	switch t {
	case DataConversion, DataUsage, DataAnalytics, DataVanityCode, DataSyncMarker:
		return true
	}
	return false
}

// Row is one record on the wire.  Rows stay schemaless here; the importers
// in internal/tracking own the typed view.
type Row map[string]any

// Payload is the top-level wire entity, optionally wrapped by encryption
// and compression framing (see codec.go).
type Payload struct {
	SyncType      SyncType          `json:"sync_type"`
	DataType      DataType          `json:"data_type,omitempty"`
	Data          []Row             `json:"data,omitempty"`
	Configuration map[string]string `json:"configuration,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	SourceDomain  string            `json:"source_domain"`
	Checksum      string            `json:"checksum,omitempty"`
}

// Checksum returns the hex MD5 of the canonical JSON serialization of rows.
// encoding/json writes map keys in sorted order, which makes the
// serialization stable across senders.  MD5 is a drift detector here, not
// an integrity proof; tampering is covered by the HMAC transport signature.
func Checksum(rows []Row) string {
	b, err := json.Marshal(rows)
	if err != nil {
		// Rows come from json-decoded sources, so this cannot fire in
		// practice; an empty checksum just disables verification downstream.
		return ""
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
