package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a closed MemoryTransport's Send/Recv.
var ErrClosed = errors.New("transport: closed")

// MemoryHub wires a set of in-process MemoryTransports together by address,
// for deterministic tests that don't need real sockets.
type MemoryHub struct {
	mu    sync.Mutex
	nodes map[string]*MemoryTransport
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{nodes: make(map[string]*MemoryTransport)}
}

// NewTransport registers and returns a new transport at addr.
func (h *MemoryHub) NewTransport(addr string) *MemoryTransport {
	t := &MemoryTransport{
		hub:     h,
		addr:    addr,
		inbound: make(chan inboundFrame, 1024),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.nodes[addr] = t
	h.mu.Unlock()
	return t
}

func (h *MemoryHub) deliver(ctx context.Context, addr string, from string, frame []byte) error {
	h.mu.Lock()
	t, ok := h.nodes[addr]
	h.mu.Unlock()
	if !ok {
		return errors.New("transport: unknown address " + addr)
	}
	select {
	case t.inbound <- inboundFrame{addr: from, frame: frame}:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MemoryTransport is a Transport implementation over a MemoryHub.
type MemoryTransport struct {
	hub     *MemoryHub
	addr    string
	inbound chan inboundFrame
	done    chan struct{}
	closeOnce sync.Once
}

func (t *MemoryTransport) Send(ctx context.Context, addr string, frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	return t.hub.deliver(ctx, addr, t.addr, frame)
}

func (t *MemoryTransport) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case f := <-t.inbound:
		return f.addr, f.frame, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-t.done:
		return "", nil, ErrClosed
	}
}

func (t *MemoryTransport) LocalAddr() string { return t.addr }

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
