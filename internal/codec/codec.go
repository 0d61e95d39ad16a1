// internal/codec/codec.go
//
// Deterministic, reversible wire encoding.
//
// Context
// -------
// On send a payload may be wrapped twice: encrypt first, then compress.
//
//	JSON(payload) → {encrypted:true, data:b64} → {compressed:true, data:b64}
//
// The receiver applies the inverse in the opposite order: decompress, then
// decrypt.  The order is a wire contract; reversing it yields ciphertext fed
// to the inflater (or zlib bytes fed to the cipher) and fails loudly here
// rather than producing silent garbage.
//
// Every decode failure wraps ErrCorrupt so the transport layer can answer
// 400 for a mangled body instead of reporting a generic sync failure.

package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt marks any failure to reverse the wire encoding: bad base64,
// inflate errors, cipher authentication failures, or malformed JSON.
var ErrCorrupt = errors.New("payload corrupt")

// Options selects the optional wrapping layers.  Both default off; the
// orchestrator reads them from configuration per send.
type Options struct {
	Encrypt  bool
	Compress bool
}

// frame is the wrapper applied by each optional layer.  Exactly one flag is
// set per nesting level.
type frame struct {
	Encrypted  bool   `json:"encrypted,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
	Data       string `json:"data"`
}

// Encode serializes p and applies the configured layers in send order:
// encrypt, then compress.
func Encode(p *Payload, secret string, opts Options) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if opts.Encrypt {
		ct, err := encrypt(body, secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt payload: %w", err)
		}
		body, err = json.Marshal(frame{
			Encrypted: true,
			Data:      base64.StdEncoding.EncodeToString(ct),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal encrypted frame: %w", err)
		}
	}

	if opts.Compress {
		cp, err := compress(body)
		if err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		body, err = json.Marshal(frame{
			Compressed: true,
			Data:       base64.StdEncoding.EncodeToString(cp),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal compressed frame: %w", err)
		}
	}

	return body, nil
}

// Decode reverses Encode in the inverse order: decompress, then decrypt,
// then unmarshal and verify.  The order is deliberately rigid; a sender
// that wrapped in the wrong order produces a payload that fails validation
// here instead of round-tripping by accident.  Unknown sync types and
// checksum mismatches are corrupt payloads, not generic failures.
func Decode(body []byte, secret string) (*Payload, error) {
	// Layer 1: compression framing, if present.
	if f, ok := peek(body); ok && f.Compressed {
		raw, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64 framing: %v", ErrCorrupt, err)
		}
		if body, err = decompress(raw); err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
		}
	}

	// Layer 2: encryption framing, if present.
	if f, ok := peek(body); ok && f.Encrypted {
		raw, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64 framing: %v", ErrCorrupt, err)
		}
		if body, err = decrypt(raw, secret); err != nil {
			return nil, fmt.Errorf("%w: decrypt: %v", ErrCorrupt, err)
		}
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: unmarshal payload: %v", ErrCorrupt, err)
	}
	if !p.SyncType.Valid() {
		return nil, fmt.Errorf("%w: unknown sync_type %q", ErrCorrupt, p.SyncType)
	}
	if p.SyncType == SyncData && !p.DataType.Valid() {
		return nil, fmt.Errorf("%w: unknown data_type %q", ErrCorrupt, p.DataType)
	}

	// The checksum travels with the payload; when present it must match
	// the rows that arrived.  Absent checksum means an older sender, and
	// verification is skipped.
	if p.Checksum != "" && len(p.Data) > 0 {
		if got := Checksum(p.Data); got != p.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
		}
	}

	return &p, nil
}

// peek unmarshals body as a framing wrapper without consuming it.
func peek(body []byte) (frame, bool) {
	var f frame
	if err := json.Unmarshal(body, &f); err != nil {
		return frame{}, false
	}
	return f, f.Compressed || f.Encrypted
}
