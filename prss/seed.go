package prss

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/transport"
	"golang.org/x/sync/errgroup"
)

// Seed runs the seed phase for st over mesh. For every A-set containing this
// party, the leader draws a seed from rng and sends it to the other members;
// the others receive it. Each seed travels in an envelope whose round is the
// A-set index. Seeds are installed only after every expected seed arrived.
func Seed(ctx context.Context, st *State, mesh transport.Mesh, rng io.Reader) error {
	if rng == nil {
		rng = rand.Reader
	}
	self := st.Self()

	type outbound struct {
		aset ASet
		seed [seedSize]byte
	}
	sends := make(map[int][]outbound)
	recvs := make(map[int][]ASet)
	seeds := make(map[int][seedSize]byte)

	for _, a := range st.Sets() {
		if a.Leader() != self {
			recvs[a.Leader()] = append(recvs[a.Leader()], a)
			continue
		}
		var seed [seedSize]byte
		if _, err := io.ReadFull(rng, seed[:]); err != nil {
			return fmt.Errorf("failed to generate seed: %w", err)
		}
		seeds[a.Index] = seed
		for _, m := range a.Members[1:] {
			sends[m] = append(sends[m], outbound{aset: a, seed: seed})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for peer, msgs := range sends {
		peer := peer
		msgs := msgs
		g.Go(func() error {
			for _, m := range msgs {
				env := transport.Envelope{Round: uint32(m.aset.Index), Payload: m.seed[:]}
				if err := mesh.Send(gctx, peer, env); err != nil {
					return fmt.Errorf("send seed %s to %d: %w", m.aset.Label(), peer, err)
				}
			}
			return nil
		})
	}

	for peer, sets := range recvs {
		peer := peer
		sets := sets
		g.Go(func() error {
			for _, a := range sets {
				env, err := mesh.Recv(gctx, peer)
				if err != nil {
					return fmt.Errorf("receive seed %s from %d: %w", a.Label(), peer, err)
				}
				if env.Round != uint32(a.Index) {
					return fmt.Errorf("%w: seed for A-set %d, expected %d", interfaces.ErrFraming, env.Round, a.Index)
				}
				if len(env.Payload) != seedSize {
					return fmt.Errorf("%w: seed of %d bytes", interfaces.ErrFraming, len(env.Payload))
				}
				var seed [seedSize]byte
				copy(seed[:], env.Payload)

				mu.Lock()
				seeds[a.Index] = seed
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: seed phase: %w", interfaces.ErrSessionAborted, err)
	}

	for _, a := range st.Sets() {
		seed, ok := seeds[a.Index]
		if !ok {
			return fmt.Errorf("%w: no seed for A-set %s", interfaces.ErrMissingCorrelatedRandomness, a.Label())
		}
		if err := st.Install(ctx, a, seed); err != nil {
			return err
		}
	}

	st.log.Info("Seed phase complete", "party", self, "asets", len(st.Sets()))
	return nil
}
