package signing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/transport"
	"golang.org/x/sync/errgroup"
)

// RoundKind is the message pattern of a round.
type RoundKind int

const (
	// Broadcast rounds send one message to every peer.
	Broadcast RoundKind = iota + 1
	// PointToPoint rounds send a distinct message to each peer.
	PointToPoint
)

func (k RoundKind) String() string {
	switch k {
	case Broadcast:
		return "broadcast"
	case PointToPoint:
		return "p2p"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Round is one step of a protocol schedule. Index starts at 1 and is carried
// in every envelope of the round.
type Round struct {
	Index int
	Kind  RoundKind
}

// Message is an outbound protocol message. To is zero for broadcasts.
type Message struct {
	To      int
	Payload []byte
}

// Protocol is a round-based state machine. The driver calls Advance once
// before every round and once after the last, delivers every peer's message
// for the round through HandleInbound, and reads Output when Finished.
type Protocol interface {
	Schedule() []Round
	Advance() error
	Outbound() []Message
	HandleInbound(from int, payload []byte) error
	Finished() bool
	Output() ([]byte, error)
}

// Driver runs protocols over a mesh.
type Driver struct {
	mesh transport.Mesh
	log  *slog.Logger
}

// NewDriver creates a driver for one party's mesh.
func NewDriver(mesh transport.Mesh, log *slog.Logger) *Driver {
	return &Driver{mesh: mesh, log: log}
}

func abort(r Round, err error) error {
	return fmt.Errorf("%w: round %d (%s): %w", interfaces.ErrSessionAborted, r.Index, r.Kind, err)
}

// Run drives proto through its schedule with the given peers. Every round is
// a barrier: the state machine only advances once one message from every
// peer has arrived. Any failure aborts the session.
func (d *Driver) Run(ctx context.Context, proto Protocol, peers []int) ([]byte, error) {
	peers = append([]int(nil), peers...)
	sort.Ints(peers)

	for _, r := range proto.Schedule() {
		if err := proto.Advance(); err != nil {
			return nil, abort(r, err)
		}

		outbound, err := route(r, proto.Outbound(), peers)
		if err != nil {
			return nil, abort(r, err)
		}

		inbound, err := d.exchange(ctx, r, outbound, peers)
		if err != nil {
			return nil, abort(r, err)
		}

		for _, p := range peers {
			if err := proto.HandleInbound(p, inbound[p]); err != nil {
				return nil, abort(r, fmt.Errorf("message from %d: %w", p, err))
			}
		}
		d.log.Debug("Round complete", "round", r.Index, "kind", r.Kind.String(), "peers", len(peers))
	}

	if err := proto.Advance(); err != nil {
		return nil, fmt.Errorf("%w: finalize: %w", interfaces.ErrSessionAborted, err)
	}
	if !proto.Finished() {
		return nil, fmt.Errorf("%w: protocol not finished after schedule", interfaces.ErrSessionAborted)
	}
	return proto.Output()
}

// route checks the outbound messages match the round kind and returns the
// payload for each peer.
func route(r Round, msgs []Message, peers []int) (map[int][]byte, error) {
	out := make(map[int][]byte, len(peers))
	switch r.Kind {
	case Broadcast:
		if len(msgs) != 1 || msgs[0].To != 0 {
			return nil, fmt.Errorf("broadcast round needs one untargeted message, have %d", len(msgs))
		}
		for _, p := range peers {
			out[p] = msgs[0].Payload
		}
	case PointToPoint:
		for _, m := range msgs {
			if _, dup := out[m.To]; dup {
				return nil, fmt.Errorf("two messages for party %d", m.To)
			}
			out[m.To] = m.Payload
		}
		if len(out) != len(peers) {
			return nil, fmt.Errorf("point-to-point round has %d messages for %d peers", len(out), len(peers))
		}
		for _, p := range peers {
			if _, ok := out[p]; !ok {
				return nil, fmt.Errorf("no message for party %d", p)
			}
		}
	default:
		return nil, fmt.Errorf("unknown round kind %d", r.Kind)
	}
	return out, nil
}

func (d *Driver) exchange(ctx context.Context, r Round, outbound map[int][]byte, peers []int) (map[int][]byte, error) {
	var mu sync.Mutex
	inbound := make(map[int][]byte, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			env := transport.Envelope{Round: uint32(r.Index), Payload: outbound[p]}
			if err := d.mesh.Send(gctx, p, env); err != nil {
				return fmt.Errorf("send to %d: %w", p, err)
			}
			return nil
		})
		g.Go(func() error {
			env, err := d.mesh.Recv(gctx, p)
			if err != nil {
				return fmt.Errorf("receive from %d: %w", p, err)
			}
			if env.Round != uint32(r.Index) {
				return fmt.Errorf("%w: party %d sent round %d during round %d", interfaces.ErrFraming, p, env.Round, r.Index)
			}
			mu.Lock()
			inbound[p] = env.Payload
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inbound, nil
}
