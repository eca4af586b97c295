package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Dialer builds the per-session mesh between a node and a set of peers.
type Dialer interface {
	Mesh(ctx context.Context, session string, peers []int) (Mesh, error)
}

// AddressBook resolves party identifiers to peer listener addresses.
type AddressBook interface {
	Addresses(ctx context.Context) (map[int]string, error)
}

// StaticAddresses is a fixed address book.
type StaticAddresses map[int]string

func (s StaticAddresses) Addresses(context.Context) (map[int]string, error) {
	return s, nil
}

// TCPDialer establishes meshes over TCP through a PeerListener.
type TCPDialer struct {
	Listener *PeerListener
	Self     int
	Book     AddressBook
}

func (d *TCPDialer) Mesh(ctx context.Context, session string, peers []int) (Mesh, error) {
	addrs, err := d.Book.Addresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving peers: %w", err)
	}
	return EstablishMesh(ctx, d.Listener, session, d.Self, peers, addrs)
}

type hubPair struct {
	ends  map[int]net.Conn
	taken int
}

// Hub connects in-process parties with pipes, one pair per session and
// party couple.
type Hub struct {
	mu    sync.Mutex
	pairs map[string]*hubPair
}

func NewHub() *Hub {
	return &Hub{pairs: make(map[string]*hubPair)}
}

func pairKey(session string, a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s/%d-%d", session, a, b)
}

func (h *Hub) take(session string, self, peer int) net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := pairKey(session, self, peer)
	p, ok := h.pairs[key]
	if !ok {
		a, b := net.Pipe()
		p = &hubPair{ends: map[int]net.Conn{self: a, peer: b}}
		h.pairs[key] = p
	}
	p.taken++
	if p.taken == 2 {
		delete(h.pairs, key)
	}
	return p.ends[self]
}

// Dialer returns the hub's view for party self.
func (h *Hub) Dialer(self int) Dialer {
	return &hubDialer{hub: h, self: self}
}

type hubDialer struct {
	hub  *Hub
	self int
}

func (d *hubDialer) Mesh(_ context.Context, session string, peers []int) (Mesh, error) {
	conns := make(map[int]net.Conn, len(peers))
	for _, p := range peers {
		if p == d.self {
			continue
		}
		conns[p] = d.hub.take(session, d.self, p)
	}
	return NewConnMesh(d.self, conns), nil
}
