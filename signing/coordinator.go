package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Coordinator drives keygen and signing on the nodes from the client side.
type Coordinator struct {
	cfg     interfaces.Config
	invoker interfaces.NodeInvoker
	app     string
	log     *slog.Logger
}

func NewCoordinator(cfg interfaces.Config, invoker interfaces.NodeInvoker, app string, log *slog.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, invoker: invoker, app: app, log: log}
}

func (c *Coordinator) invokeAll(ctx context.Context, op interfaces.Operation, clientID string, params *Params, in, out []string) ([][]byte, error) {
	args, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	session := uuid.NewString()

	results := make([][]byte, c.cfg.N)
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range c.cfg.Parties() {
		node := node
		g.Go(func() error {
			res, err := c.invoker.Invoke(gctx, node, interfaces.Invocation{
				App:       c.app,
				Operation: op,
				Session:   session,
				ClientID:  clientID,
				InFiles:   in,
				OutFiles:  out,
				Args:      [][]byte{args},
			})
			if err != nil {
				return fmt.Errorf("node %d: %w", node, err)
			}
			results[node-1] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrSessionAborted, op, err)
	}
	c.log.Debug("Operation complete on all nodes", "op", op.String(), "session", session)
	return results, nil
}

// KeyGen runs distributed key generation on every node. Each node stores its
// share under out, or the default key share location when out is empty.
func (c *Coordinator) KeyGen(ctx context.Context, clientID string, out string) (*PublicKey, error) {
	params := &Params{NumParties: c.cfg.N, Threshold: c.cfg.T}
	var outFiles []string
	if out != "" {
		outFiles = []string{out}
	}
	results, err := c.invokeAll(ctx, interfaces.OpKeyGen, clientID, params, nil, outFiles)
	if err != nil {
		return nil, err
	}

	var first PublicKey
	for i, res := range results {
		var pk PublicKey
		if err := json.Unmarshal(res, &pk); err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", interfaces.ErrSessionAborted, i+1, err)
		}
		if i == 0 {
			first = pk
			continue
		}
		if !bytes.Equal(pk.GroupKey, first.GroupKey) {
			return nil, fmt.Errorf("%w: node %d reports a different group key", interfaces.ErrSessionAborted, i+1)
		}
	}
	return &first, nil
}

// Sign asks the active parties to sign message with the key share at in.
// Every node is invoked; inactive ones return nothing. The signature is
// verified against groupKey before it is returned.
func (c *Coordinator) Sign(ctx context.Context, clientID string, in string, groupKey []byte, active []int, message []byte) ([]byte, error) {
	params := &Params{NumParties: c.cfg.N, Threshold: c.cfg.T, ActiveParties: active, Message: message}
	if _, err := params.Signers(); err != nil {
		return nil, err
	}
	var inFiles []string
	if in != "" {
		inFiles = []string{in}
	}
	results, err := c.invokeAll(ctx, interfaces.OpSign, clientID, params, inFiles, nil)
	if err != nil {
		return nil, err
	}

	var sig []byte
	for i, res := range results {
		if len(res) == 0 {
			continue
		}
		if sig == nil {
			sig = res
			continue
		}
		if !bytes.Equal(sig, res) {
			return nil, fmt.Errorf("%w: node %d returned a different signature", interfaces.ErrSessionAborted, i+1)
		}
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: no node returned a signature", interfaces.ErrSessionAborted)
	}
	if err := Verify(groupKey, message, sig); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrSessionAborted, err)
	}
	return sig, nil
}
