package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PushHandler receives an unsolicited server push: a Response whose ID the
// Communicator never assigned to an outstanding Request.
type PushHandler func(*Response)

// Communicator multiplexes concurrent calls over one Transport, the way a
// single websocket or TCP connection to a provider serves every in-flight
// operation from every open proxy handle at once. Outgoing requests get a
// monotonically increasing positive ID; the remote side echoes that ID on
// its reply so Communicator can route it back to the right waiter. IDs the
// remote side originates itself (server push, never requested) are
// negative by convention and never touch the mailbox.
type Communicator struct {
	transport Transport
	onPush    PushHandler

	mu      sync.Mutex
	nextID  int64
	mailbox map[int64]chan *Response
	closed  bool
	readErr error
}

// NewCommunicator starts reading transport in the background and routing
// replies to Call's waiters, dispatching any negative-ID message to
// onPush instead (nil means pushes are silently dropped).
func NewCommunicator(transport Transport, onPush PushHandler) *Communicator {
	c := &Communicator{
		transport: transport,
		onPush:    onPush,
		nextID:    1,
		mailbox:   make(map[int64]chan *Response),
	}
	go c.readLoop()
	return c
}

// allocateID returns the next request ID, skipping zero and wrapping past
// the negative range reserved for server pushes back to 1.
func (c *Communicator) allocateID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	return id
}

// Call sends req over the transport and blocks until a matching Response
// arrives, ctx is cancelled, or the Communicator is closed. req.ID is
// overwritten with a freshly allocated ID regardless of what the caller
// set.
func (c *Communicator) Call(ctx context.Context, req *Request) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	req.ID = c.allocateID()

	wait := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("proxy: communicator closed")
	}
	c.mailbox[req.ID] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.mailbox, req.ID)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: encode request: %w", err)
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		return nil, fmt.Errorf("proxy: send request: %w", err)
	}

	select {
	case resp, ok := <-wait:
		if !ok {
			return nil, fmt.Errorf("proxy: communicator closed")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop decodes frames off the transport for the life of the
// Communicator, routing each to its waiter's mailbox entry or to onPush.
func (c *Communicator) readLoop() {
	for {
		frame, err := c.transport.Recv(context.Background())
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.readErr = err
			for id, ch := range c.mailbox {
				close(ch)
				delete(c.mailbox, id)
			}
			c.mu.Unlock()
			return
		}

		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			continue
		}

		if resp.ID <= 0 {
			if c.onPush != nil {
				go c.onPush(&resp)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.mailbox[resp.ID]
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// Close shuts down the underlying transport; any Call already waiting
// returns once readLoop observes the resulting Recv error.
func (c *Communicator) Close() error {
	return c.transport.Close()
}

// defaultCallTimeout bounds how long Call waits when the caller's context
// carries no deadline of its own.
const defaultCallTimeout = 30 * time.Second
