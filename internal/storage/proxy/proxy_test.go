package proxy

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jakub-valenta/helpers/pkg/errors"
	"github.com/jakub-valenta/helpers/pkg/helper"
)

// chanTransport is an in-memory Transport: frames written by one side are
// read by the other, letting tests drive a Communicator without a real
// socket.
type chanTransport struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanPair() (*chanTransport, *chanTransport) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	closed := make(chan struct{})
	return &chanTransport{out: a, in: b, closed: closed},
		&chanTransport{out: b, in: a, closed: closed}
}

func (t *chanTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case t.out <- frame:
		return nil
	case <-t.closed:
		return context.Canceled
	}
}

func (t *chanTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.in:
		return frame, nil
	case <-t.closed:
		return nil, context.Canceled
	}
}

func (t *chanTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// runFakeServer answers every Request on its side of the pair with a
// canned Response built by respond, until stopped.
func runFakeServer(t *testing.T, side *chanTransport, respond func(Request) Response) {
	t.Helper()
	go func() {
		for {
			frame, err := side.Recv(context.Background())
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(frame, &req); err != nil {
				continue
			}
			resp := respond(req)
			resp.ID = req.ID
			out, _ := json.Marshal(resp)
			if side.Send(context.Background(), out) != nil {
				return
			}
		}
	}()
}

func TestCallRoundTrips(t *testing.T) {
	t.Parallel()

	clientSide, serverSide := newChanPair()
	runFakeServer(t, serverSide, func(req Request) Response {
		st := helper.Stat{Size: 42}
		payload, _ := json.Marshal(st)
		return Response{Payload: payload}
	})

	comm := NewCommunicator(clientSide, nil)
	defer comm.Close()

	backend := New(comm, Config{StorageID: "storage1"})
	st, err := backend.Getattr("file1").Wait()
	if err != nil {
		t.Fatalf("Getattr: %v", err)
	}
	if st.Size != 42 {
		t.Errorf("Size = %d, want 42", st.Size)
	}
}

func TestCallPropagatesRemoteError(t *testing.T) {
	t.Parallel()

	clientSide, serverSide := newChanPair()
	runFakeServer(t, serverSide, func(req Request) Response {
		return Response{Err: &RemoteError{Kind: string(errors.NotFound), Message: "no such file"}}
	})

	comm := NewCommunicator(clientSide, nil)
	defer comm.Close()

	backend := New(comm, Config{StorageID: "storage1"})
	_, err := backend.Getattr("missing").Wait()
	if errors.KindOf(err) != errors.NotFound {
		t.Errorf("KindOf() = %v, want NotFound", errors.KindOf(err))
	}
}

func TestCallHonorsContextTimeout(t *testing.T) {
	t.Parallel()

	clientSide, serverSide := newChanPair()
	defer serverSide.Close()
	// No server goroutine answers: the call must time out rather than hang.

	comm := NewCommunicator(clientSide, nil)
	defer comm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := comm.Call(ctx, &Request{Op: "getattr"})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestPushMessagesBypassMailbox(t *testing.T) {
	t.Parallel()

	clientSide, serverSide := newChanPair()
	defer clientSide.Close()

	var mu sync.Mutex
	var received *Response
	done := make(chan struct{})

	comm := NewCommunicator(clientSide, func(r *Response) {
		mu.Lock()
		received = r
		mu.Unlock()
		close(done)
	})
	defer comm.Close()

	push := Response{ID: -1, Payload: json.RawMessage(`{"invalidated":"file1"}`)}
	frame, _ := json.Marshal(push)
	if err := serverSide.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push handler never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil || received.ID != -1 {
		t.Errorf("received = %+v, want ID -1", received)
	}
}

func TestReaddirIsNotSupported(t *testing.T) {
	t.Parallel()

	clientSide, serverSide := newChanPair()
	defer serverSide.Close()
	defer clientSide.Close()

	comm := NewCommunicator(clientSide, nil)
	backend := New(comm, Config{StorageID: "storage1"})

	_, err := backend.Readdir("dir1", 0, 10).Wait()
	if errors.KindOf(err) != errors.NotSupported {
		t.Errorf("KindOf() = %v, want NotSupported", errors.KindOf(err))
	}
}
