package clients

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dots-platform/skrecovery-app/api/nodehandler"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/recovery"
	"github.com/dots-platform/skrecovery-app/signing"
	"golang.org/x/sync/errgroup"
)

// ClusterClient talks to all N nodes of a cluster over HTTP. It bundles the
// recovery client, the signing coordinator and per-node blob transfer.
type ClusterClient struct {
	cfg      interfaces.Config
	clientID string
	nodes    *nodehandler.Client
	log      *slog.Logger

	Recovery *recovery.Client
	Signing  *signing.Coordinator
}

// NewClusterClient creates a client for the nodes at endpoints, which must
// list one URL per node in identifier order.
//
// Parameters:
//   - cfg: cluster size and threshold
//   - endpoints: base URLs, endpoints[i] is node i+1
//   - app: application name used for every invocation
//   - clientID: namespace for this client's blobs
//   - timeout: per-request timeout (optional, default 60 seconds)
func NewClusterClient(cfg interfaces.Config, endpoints []string, app, clientID string, log *slog.Logger, timeout ...time.Duration) (*ClusterClient, error) {
	if len(endpoints) != cfg.N {
		return nil, fmt.Errorf("%w: %d endpoints for %d nodes", interfaces.ErrInvalidParameters, len(endpoints), cfg.N)
	}

	clientTimeout := 60 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	byID := make(map[int]string, len(endpoints))
	for i, e := range endpoints {
		byID[i+1] = e
	}
	nodes := &nodehandler.Client{
		Endpoints: byID,
		Client:    &http.Client{Timeout: clientTimeout},
	}

	return &ClusterClient{
		cfg:      cfg,
		clientID: clientID,
		nodes:    nodes,
		log:      log,
		Recovery: recovery.NewClient(cfg, nodes, app, log),
		Signing:  signing.NewCoordinator(cfg, nodes, app, log),
	}, nil
}

// Upload stores one blob per node under key. blobs[i] goes to node i+1.
func (c *ClusterClient) Upload(ctx context.Context, key string, blobs [][]byte) error {
	if len(blobs) != c.cfg.N {
		return fmt.Errorf("%w: %d blobs for %d nodes", interfaces.ErrInvalidParameters, len(blobs), c.cfg.N)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range c.cfg.Parties() {
		node := node
		g.Go(func() error {
			if err := c.nodes.PutBlob(gctx, node, c.clientID, key, blobs[node-1]); err != nil {
				return fmt.Errorf("node %d: %w", node, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.log.Debug("Uploaded blob to all nodes", "key", key)
	return nil
}

// Retrieve reads key from every node. The result is indexed by node - 1.
func (c *ClusterClient) Retrieve(ctx context.Context, key string) ([][]byte, error) {
	out := make([][]byte, c.cfg.N)
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range c.cfg.Parties() {
		node := node
		g.Go(func() error {
			data, err := c.nodes.GetBlob(gctx, node, c.clientID, key)
			if err != nil {
				return fmt.Errorf("node %d: %w", node, err)
			}
			out[node-1] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadReplicated stores the same data on every node under key. It is used
// for public values such as a group public key.
func (c *ClusterClient) UploadReplicated(ctx context.Context, key string, data []byte) error {
	blobs := make([][]byte, c.cfg.N)
	for i := range blobs {
		blobs[i] = data
	}
	return c.Upload(ctx, key, blobs)
}

// RetrieveConsistent reads a blob stored with UploadReplicated. It fails with
// ErrInconsistentReplicas unless every node returns the same bytes.
func (c *ClusterClient) RetrieveConsistent(ctx context.Context, key string) ([]byte, error) {
	blobs, err := c.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	for i, b := range blobs[1:] {
		if !bytes.Equal(b, blobs[0]) {
			return nil, fmt.Errorf("%w: node %d differs from node 1 for %s", interfaces.ErrInconsistentReplicas, i+2, key)
		}
	}
	return blobs[0], nil
}

// KeyGen runs distributed key generation under this client's namespace.
func (c *ClusterClient) KeyGen(ctx context.Context, out string) (*signing.PublicKey, error) {
	return c.Signing.KeyGen(ctx, c.clientID, out)
}

// Sign signs message with the active parties using the key share at in.
func (c *ClusterClient) Sign(ctx context.Context, in string, groupKey []byte, active []int, message []byte) ([]byte, error) {
	return c.Signing.Sign(ctx, c.clientID, in, groupKey, active, message)
}
