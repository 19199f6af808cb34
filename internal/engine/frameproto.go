package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// The persistent video-synthesis process speaks a length-prefixed protocol
// over a stream socket: each message is a 4-byte little-endian length header
// followed by a UTF-8 JSON body. Exactly one response is returned per request.

// maxFrameBytes bounds a single message body; anything larger is treated as
// a protocol violation rather than buffered.
const maxFrameBytes = 64 << 20

// Protocol commands understood by the persistent process.
const (
	cmdHealth     = "health"
	cmdInfer      = "infer"
	cmdPreprocess = "preprocess"
	cmdCacheCheck = "cache_check"
	cmdStatus     = "status"
)

// frameRequest is the request envelope.
type frameRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// frameResponse is the response envelope. Code 0 means success.
type frameResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// writeFrame marshals v and writes one length-prefixed message.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readFrame reads one length-prefixed message and unmarshals it into v.
func readFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
