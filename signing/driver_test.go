package signing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// echo broadcasts its id in round one and sends each peer a tagged message in
// round two. It records everything it receives.
type echo struct {
	self  int
	peers []int
	round int
	seen  []string
	done  bool
}

func (e *echo) Schedule() []Round {
	return []Round{{Index: 1, Kind: Broadcast}, {Index: 2, Kind: PointToPoint}}
}

func (e *echo) Advance() error {
	e.round++
	if e.round == 3 {
		e.done = true
	}
	return nil
}

func (e *echo) Outbound() []Message {
	switch e.round {
	case 1:
		return []Message{{Payload: []byte(fmt.Sprintf("hello from %d", e.self))}}
	case 2:
		var out []Message
		for _, p := range e.peers {
			out = append(out, Message{To: p, Payload: []byte(fmt.Sprintf("%d->%d", e.self, p))})
		}
		return out
	}
	return nil
}

func (e *echo) HandleInbound(from int, payload []byte) error {
	e.seen = append(e.seen, fmt.Sprintf("r%d:%d:%s", e.round, from, payload))
	return nil
}

func (e *echo) Finished() bool {
	return e.done
}

func (e *echo) Output() ([]byte, error) {
	return []byte(fmt.Sprint(e.seen)), nil
}

func TestDriverDeliversInPeerOrder(t *testing.T) {
	ids := []int{1, 2, 3}
	meshes := transport.PipeMeshes(ids)
	protos := make(map[int]*echo)
	for _, id := range ids {
		protos[id] = &echo{self: id, peers: others(ids, id)}
	}

	g, ctx := errgroup.WithContext(testContext(t))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			defer meshes[id].Close()
			_, err := NewDriver(meshes[id], testLogger()).Run(ctx, protos[id], protos[id].peers)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, []string{
		"r1:1:hello from 1",
		"r1:3:hello from 3",
		"r2:1:1->2",
		"r2:3:3->2",
	}, protos[2].seen)
}

type wrongKind struct{ echo }

func (w *wrongKind) Outbound() []Message {
	if w.round == 1 {
		return []Message{{To: 2, Payload: []byte("x")}}
	}
	return w.echo.Outbound()
}

func TestDriverRejectsMalformedOutbound(t *testing.T) {
	meshes := transport.PipeMeshes([]int{1, 2})
	defer meshes[1].Close()
	defer meshes[2].Close()

	_, err := NewDriver(meshes[1], testLogger()).Run(testContext(t), &wrongKind{echo{self: 1}}, []int{2})
	assert.ErrorIs(t, err, interfaces.ErrSessionAborted)
}

func TestDriverRejectsRoundMismatch(t *testing.T) {
	meshes := transport.PipeMeshes([]int{1, 2})
	ctx := testContext(t)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Party 2 skips ahead to round 2.
		env := transport.Envelope{Round: 2, Payload: []byte("early")}
		if err := meshes[2].Send(gctx, 1, env); err != nil {
			return err
		}
		_, err := meshes[2].Recv(gctx, 1)
		return err
	})

	_, err := NewDriver(meshes[1], testLogger()).Run(ctx, &echo{self: 1, peers: []int{2}}, []int{2})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrSessionAborted)
	assert.ErrorIs(t, err, interfaces.ErrFraming)

	meshes[1].Close()
	meshes[2].Close()
	_ = g.Wait()
}

type failing struct {
	echo
	err error
}

func (f *failing) HandleInbound(int, []byte) error {
	return f.err
}

func TestDriverAbortsOnProtocolError(t *testing.T) {
	meshes := transport.PipeMeshes([]int{1, 2})
	boom := errors.New("boom")

	g, ctx := errgroup.WithContext(context.Background())
	var errs [3]error
	g.Go(func() error {
		_, errs[1] = NewDriver(meshes[1], testLogger()).Run(ctx, &failing{echo: echo{self: 1, peers: []int{2}}, err: boom}, []int{2})
		meshes[1].Close()
		return nil
	})
	g.Go(func() error {
		_, errs[2] = NewDriver(meshes[2], testLogger()).Run(ctx, &echo{self: 2, peers: []int{1}}, []int{1})
		meshes[2].Close()
		return nil
	})
	require.NoError(t, g.Wait())

	assert.ErrorIs(t, errs[1], interfaces.ErrSessionAborted)
	assert.ErrorIs(t, errs[1], boom)
	assert.ErrorIs(t, errs[2], interfaces.ErrSessionAborted)
}
