// internal/codec/codec_test.go
//
// Unit-tests for the wire codec.
//
// Context
// -------
// The contract under test:
//
//   • Encode/Decode round-trips with any combination of layers.
//   • The receiver order (decompress → decrypt) rejects a sender that
//     wrapped in the wrong order (compress → encrypt).
//   • Checksum mismatches and mangled framing surface as ErrCorrupt, not
//     as a bare false or a generic error.

package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "correct-horse-battery-staple"

func samplePayload() *Payload {
	rows := []Row{
		{"code": "SUMMER20", "value": 49.90, "session_id": "abc123"},
		{"code": "SUMMER20", "value": 12.00, "session_id": "def456"},
	}
	return &Payload{
		SyncType:     SyncData,
		DataType:     DataConversion,
		Data:         rows,
		Timestamp:    time.Now().Unix(),
		SourceDomain: "https://a.example",
		Checksum:     Checksum(rows),
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"plain", Options{}},
		{"encrypted", Options{Encrypt: true}},
		{"compressed", Options{Compress: true}},
		{"encrypted_compressed", Options{Encrypt: true, Compress: true}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := samplePayload()
			wire, err := Encode(in, testSecret, c.opts)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			out, err := Decode(wire, testSecret)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.SyncType != in.SyncType || out.DataType != in.DataType {
				t.Fatalf("type fields lost: %+v", out)
			}
			if len(out.Data) != len(in.Data) {
				t.Fatalf("row count = %d, want %d", len(out.Data), len(in.Data))
			}
			if out.Checksum != in.Checksum {
				t.Fatalf("checksum lost in transit")
			}
		})
	}
}

// TestWrongLayerOrder builds a payload wrapped compress-then-encrypt, the
// reverse of the contract.  The receiver must reject it; it must never
// round-trip by accident.
func TestWrongLayerOrder(t *testing.T) {
	body, err := json.Marshal(samplePayload())
	if err != nil {
		t.Fatal(err)
	}

	// Wrong sender: compress first …
	cp, err := compress(body)
	if err != nil {
		t.Fatal(err)
	}
	inner, _ := json.Marshal(frame{Compressed: true, Data: base64.StdEncoding.EncodeToString(cp)})

	// … then encrypt.
	ct, err := encrypt(inner, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	wire, _ := json.Marshal(frame{Encrypted: true, Data: base64.StdEncoding.EncodeToString(ct)})

	if _, err := Decode(wire, testSecret); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("wrong-order payload decoded without ErrCorrupt: %v", err)
	}
}

func TestDecodeWrongSecret(t *testing.T) {
	wire, err := Encode(samplePayload(), testSecret, Options{Encrypt: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(wire, "not-the-secret"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("wrong secret must yield ErrCorrupt, got %v", err)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	p := samplePayload()
	p.Checksum = strings.Repeat("0", 32) // valid shape, wrong value
	wire, err := Encode(p, testSecret, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(wire, testSecret); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("checksum mismatch must yield ErrCorrupt, got %v", err)
	}
}

func TestDecodeMangledFraming(t *testing.T) {
	cases := map[string][]byte{
		"bad base64":       []byte(`{"compressed":true,"data":"!!!not-base64!!!"}`),
		"bad deflate":      []byte(`{"compressed":true,"data":"` + base64.StdEncoding.EncodeToString([]byte("junk")) + `"}`),
		"truncated cipher": []byte(`{"encrypted":true,"data":"` + base64.StdEncoding.EncodeToString([]byte{1, 2}) + `"}`),
		"not json":         []byte(`this is not json`),
		"unknown type":     []byte(`{"sync_type":"mystery","timestamp":1}`),
	}
	for name, wire := range cases {
		if _, err := Decode(wire, testSecret); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: want ErrCorrupt, got %v", name, err)
		}
	}
}

func TestChecksumStable(t *testing.T) {
	rows := []Row{{"b": 2, "a": 1}, {"z": "x"}}
	if Checksum(rows) != Checksum([]Row{{"a": 1, "b": 2}, {"z": "x"}}) {
		t.Fatal("checksum must not depend on map key insertion order")
	}
}

func TestNoncesDiffer(t *testing.T) {
	p := samplePayload()
	a, err := Encode(p, testSecret, Options{Encrypt: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(p, testSecret, Options{Encrypt: true})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) == string(b) {
		t.Fatal("two encryptions of the same payload must not be identical")
	}
}
