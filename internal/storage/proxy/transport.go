// Package proxy implements helper.StorageHelper by forwarding every
// operation over a persistent connection to a remote provider that
// implements this same contract — the same role the original proxy
// helper played for files whose real storage lives behind another
// onedata provider rather than on a locally reachable backend.
package proxy

import (
	"context"
	"encoding/json"
)

// Transport is the framed byte-stream a Communicator correlates requests
// and responses over. A real implementation dials a TCP or TLS connection
// and length-prefixes frames the way persistentConnection.cc's
// sharedBufferSequence framing did; tests use an in-memory pair instead.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Request is one outgoing call. ID is assigned by the Communicator, never
// by the caller.
type Request struct {
	ID        int64             `json:"id"`
	StorageID string            `json:"storage_id"`
	Op        string            `json:"op"`
	FileID    string            `json:"file_id"`
	Args      map[string]string `json:"args,omitempty"`
	Data      []byte            `json:"data,omitempty"`
}

// Response answers a Request with the same ID, or arrives unsolicited with
// a negative ID as a server-initiated push (e.g. an invalidation event for
// a file this provider no longer guarantees is current).
type Response struct {
	ID      int64           `json:"id"`
	Err     *RemoteError    `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    []byte          `json:"data,omitempty"`
}

// RemoteError is how the remote side reports a failure, translated back
// into a *errors.HelperError by the Backend before it reaches a caller.
type RemoteError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
