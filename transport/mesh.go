package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// Mesh is one party's set of duplex channels to its peers, addressed by
// party identifier.
type Mesh interface {
	// Self is this party's identifier.
	Self() int
	// Peers lists the connected peers in ascending order.
	Peers() []int
	// Send writes env to a peer. env.From is set to Self.
	Send(ctx context.Context, to int, env Envelope) error
	// Recv reads the next envelope from a peer and checks its sender.
	Recv(ctx context.Context, from int) (Envelope, error)
	// Close releases all channels.
	Close() error
}

// ConnMesh implements Mesh over framed stream connections.
type ConnMesh struct {
	self  int
	conns map[int]*Conn
}

// NewConnMesh builds a mesh from established connections keyed by peer id.
func NewConnMesh(self int, conns map[int]net.Conn) *ConnMesh {
	m := &ConnMesh{self: self, conns: make(map[int]*Conn, len(conns))}
	for id, c := range conns {
		m.conns[id] = NewConn(c)
	}
	return m
}

func (m *ConnMesh) Self() int {
	return m.self
}

func (m *ConnMesh) Peers() []int {
	peers := make([]int, 0, len(m.conns))
	for id := range m.conns {
		peers = append(peers, id)
	}
	sort.Ints(peers)
	return peers
}

func (m *ConnMesh) Send(ctx context.Context, to int, env Envelope) error {
	c, ok := m.conns[to]
	if !ok {
		return fmt.Errorf("no channel to party %d", to)
	}
	env.From = uint16(m.self)
	return c.WriteEnvelope(ctx, env)
}

func (m *ConnMesh) Recv(ctx context.Context, from int) (Envelope, error) {
	c, ok := m.conns[from]
	if !ok {
		return Envelope{}, fmt.Errorf("no channel from party %d", from)
	}
	env, err := c.ReadEnvelope(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if int(env.From) != from {
		return Envelope{}, fmt.Errorf("%w: envelope from %d on channel of party %d", interfaces.ErrFraming, env.From, from)
	}
	return env, nil
}

func (m *ConnMesh) Close() error {
	var errs []error
	for _, c := range m.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PipeMeshes connects the given parties pairwise with in-memory pipes.
func PipeMeshes(ids []int) map[int]*ConnMesh {
	conns := make(map[int]map[int]net.Conn, len(ids))
	for _, id := range ids {
		conns[id] = make(map[int]net.Conn)
	}
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			ca, cb := net.Pipe()
			conns[a][b] = ca
			conns[b][a] = cb
		}
	}

	meshes := make(map[int]*ConnMesh, len(ids))
	for _, id := range ids {
		meshes[id] = NewConnMesh(id, conns[id])
	}
	return meshes
}
