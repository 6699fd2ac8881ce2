// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame. Browsers cap messages sent to a
// native host at 64 MiB.
const MaxMessageSize = 64 << 20

const prefixSize = 4

// ReadMessage reads one frame: a 4-byte little-endian length followed by
// exactly that many bytes. If fewer than 4 prefix bytes are available it
// returns ErrEndOfStream. A short payload or an oversized length is an
// ErrProtocolFraming error.
func ReadMessage(r io.Reader) ([]byte, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	n := binary.LittleEndian.Uint32(prefix[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: message length %d exceeds %d", ErrProtocolFraming, n, MaxMessageSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short read of %d-byte payload", ErrProtocolFraming, n)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// WriteMessage writes payload as one frame.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: message length %d exceeds %d", ErrProtocolFraming, len(payload), MaxMessageSize)
	}
	buf := make([]byte, prefixSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[prefixSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Encode marshals v as JSON and writes it as one frame.
func Encode(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return WriteMessage(w, data)
}

// Decode reads one frame and unmarshals its JSON payload into v.
func Decode(r io.Reader, v any) error {
	data, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
