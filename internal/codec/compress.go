// internal/codec/compress.go
//
// Payload compression layer (DEFLATE).
//
// Inflated output is capped so a hostile counterpart cannot send a small
// body that expands into gigabytes.

package codec

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"
)

// maxInflated bounds decompression output.  Payloads carry at most a few
// hundred rows, so 16 MiB leaves generous headroom.
const maxInflated = 16 << 20

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxInflated+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxInflated {
		return nil, errors.New("inflated payload exceeds size cap")
	}
	return out, nil
}
