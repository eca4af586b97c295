package node

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/prss"
	"github.com/dots-platform/skrecovery-app/recovery"
	"github.com/dots-platform/skrecovery-app/signing"
	"github.com/dots-platform/skrecovery-app/transport"
)

// Observer receives the outcome of every executed operation.
type Observer interface {
	ObserveOperation(op, result string, d time.Duration)
}

// app holds the per-application services of a node.
type app struct {
	randomness *prss.State
	recovery   *recovery.Server
}

// Node is one server of the cluster. It executes invocations against its
// blob store, building a mesh with the other nodes when an operation needs
// one.
type Node struct {
	cfg    interfaces.Config
	self   int
	store  interfaces.BlobStore
	dialer transport.Dialer
	rng    io.Reader
	log    *slog.Logger
	obs    Observer

	mu   sync.Mutex
	apps map[string]*app
}

// New creates node self of the cluster described by cfg.
func New(cfg interfaces.Config, self int, store interfaces.BlobStore, dialer transport.Dialer, log *slog.Logger) (*Node, error) {
	if !cfg.ValidParty(self) {
		return nil, fmt.Errorf("%w: node %d of %d", interfaces.ErrInvalidParameters, self, cfg.N)
	}
	return &Node{
		cfg:    cfg,
		self:   self,
		store:  store,
		dialer: dialer,
		rng:    rand.Reader,
		log:    log.With("node", self),
		apps:   make(map[string]*app),
	}, nil
}

func (n *Node) Self() int {
	return n.self
}

// SetObserver installs o for subsequent operations. It is not safe to call
// concurrently with Execute.
func (n *Node) SetObserver(o Observer) {
	n.obs = o
}

// resultLabel classifies an operation error for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interfaces.ErrUnknownOperation), errors.Is(err, interfaces.ErrInvalidParameters):
		return "invalid"
	case errors.Is(err, interfaces.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, interfaces.ErrMissingCorrelatedRandomness):
		return "no_randomness"
	case errors.Is(err, interfaces.ErrSessionAborted):
		return "aborted"
	default:
		return "error"
	}
}

func validName(kind, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %s %q", interfaces.ErrInvalidParameters, kind, name)
	}
	return interfaces.ValidateBlobKey(name)
}

// appFor returns the services of an application, restoring its persisted
// randomness the first time it is used.
func (n *Node) appFor(ctx context.Context, name string) (*app, error) {
	if err := validName("app", name); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if a, ok := n.apps[name]; ok {
		return a, nil
	}

	store := interfaces.NamespacedStore{Store: n.store, Namespace: "apps/" + name}
	log := n.log.With("app", name)

	randomness, err := prss.NewState(n.cfg, n.self, store, log)
	if err != nil {
		return nil, err
	}
	if err := randomness.Load(ctx); err != nil {
		return nil, err
	}
	server, err := recovery.NewServer(n.cfg, n.self, store, randomness, log)
	if err != nil {
		return nil, err
	}

	a := &app{randomness: randomness, recovery: server}
	n.apps[name] = a
	return a, nil
}

func (n *Node) clientStore(clientID string) (interfaces.BlobStore, error) {
	if err := validName("client", clientID); err != nil {
		return nil, err
	}
	return interfaces.NamespacedStore{Store: n.store, Namespace: "clients/" + clientID}, nil
}

// PutBlob stores a client blob.
func (n *Node) PutBlob(ctx context.Context, clientID, key string, data []byte) error {
	store, err := n.clientStore(clientID)
	if err != nil {
		return err
	}
	if err := interfaces.ValidateBlobKey(key); err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

// GetBlob reads a client blob.
func (n *Node) GetBlob(ctx context.Context, clientID, key string) ([]byte, error) {
	store, err := n.clientStore(clientID)
	if err != nil {
		return nil, err
	}
	if err := interfaces.ValidateBlobKey(key); err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

func (n *Node) mesh(ctx context.Context, session string, peers []int) (transport.Mesh, error) {
	if session == "" {
		return nil, fmt.Errorf("%w: operation needs a session id", interfaces.ErrInvalidParameters)
	}
	if n.dialer == nil {
		return nil, errors.New("node has no peer transport")
	}
	return n.dialer.Mesh(ctx, session, peers)
}

func firstArg(inv interfaces.Invocation) ([]byte, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("%w: %s needs an argument", interfaces.ErrInvalidParameters, inv.Operation)
	}
	return inv.Args[0], nil
}

// Execute runs one invocation and returns its result bytes.
func (n *Node) Execute(ctx context.Context, inv interfaces.Invocation) ([]byte, error) {
	start := time.Now()
	out, err := n.execute(ctx, inv)
	if n.obs != nil {
		n.obs.ObserveOperation(inv.Operation.String(), resultLabel(err), time.Since(start))
	}
	return out, err
}

func (n *Node) execute(ctx context.Context, inv interfaces.Invocation) ([]byte, error) {
	a, err := n.appFor(ctx, inv.App)
	if err != nil {
		return nil, err
	}
	log := n.log.With("app", inv.App, "op", inv.Operation.String(), "session", inv.Session)
	log.Debug("Executing operation")

	switch inv.Operation {
	case interfaces.OpSeedPrgs:
		return nil, n.seed(ctx, a, inv)
	case interfaces.OpEnroll:
		return nil, n.enroll(ctx, a, inv)
	case interfaces.OpRecover:
		return n.recover(ctx, a, inv)
	case interfaces.OpKeyGen:
		return n.keygen(ctx, inv, log)
	case interfaces.OpSign:
		return n.sign(ctx, inv, log)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownOperation, inv.Operation)
	}
}

func (n *Node) seed(ctx context.Context, a *app, inv interfaces.Invocation) error {
	mesh, err := n.mesh(ctx, inv.Session, n.cfg.Parties())
	if err != nil {
		return err
	}
	defer mesh.Close()
	return prss.Seed(ctx, a.randomness, mesh, n.rng)
}

func (n *Node) enroll(ctx context.Context, a *app, inv interfaces.Invocation) error {
	arg, err := firstArg(inv)
	if err != nil {
		return err
	}
	var rec recovery.EnrollmentRecord
	if err := json.Unmarshal(arg, &rec); err != nil {
		return fmt.Errorf("%w: enrollment record: %w", interfaces.ErrInvalidParameters, err)
	}
	return a.recovery.Enroll(ctx, &rec)
}

func (n *Node) recover(ctx context.Context, a *app, inv interfaces.Invocation) ([]byte, error) {
	arg, err := firstArg(inv)
	if err != nil {
		return nil, err
	}
	var req recovery.RecoverRequest
	if err := json.Unmarshal(arg, &req); err != nil {
		return nil, fmt.Errorf("%w: recover request: %w", interfaces.ErrInvalidParameters, err)
	}
	resp, err := a.recovery.Recover(ctx, &req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func defaultKeyShare(app string) string {
	return "signing/" + app + "/keyshare"
}

func blobName(files []string, fallback string) string {
	if len(files) > 0 && files[0] != "" {
		return files[0]
	}
	return fallback
}

func (n *Node) signingParams(inv interfaces.Invocation) (*signing.Params, error) {
	arg, err := firstArg(inv)
	if err != nil {
		return nil, err
	}
	params, err := signing.ParseParams(arg, n.cfg.N)
	if err != nil {
		return nil, err
	}
	if params.Threshold != n.cfg.T {
		return nil, fmt.Errorf("%w: threshold %d on a cluster with threshold %d", interfaces.ErrInvalidParameters, params.Threshold, n.cfg.T)
	}
	return params, nil
}

func (n *Node) keygen(ctx context.Context, inv interfaces.Invocation, log *slog.Logger) ([]byte, error) {
	if _, err := n.signingParams(inv); err != nil {
		return nil, err
	}
	store, err := n.clientStore(inv.ClientID)
	if err != nil {
		return nil, err
	}

	mesh, err := n.mesh(ctx, inv.Session, n.cfg.Parties())
	if err != nil {
		return nil, err
	}
	defer mesh.Close()

	share, err := signing.RunKeygen(ctx, mesh, n.cfg, n.rng, log)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(share)
	if err != nil {
		return nil, err
	}
	key := blobName(inv.OutFiles, defaultKeyShare(inv.App))
	if err := store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("storing key share: %w", err)
	}
	return json.Marshal(&signing.PublicKey{GroupKey: share.GroupKey})
}

func (n *Node) sign(ctx context.Context, inv interfaces.Invocation, log *slog.Logger) ([]byte, error) {
	params, err := n.signingParams(inv)
	if err != nil {
		return nil, err
	}
	active, err := params.Signers()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(active, n.self) {
		log.Debug("Not an active signer")
		return nil, nil
	}

	store, err := n.clientStore(inv.ClientID)
	if err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, blobName(inv.InFiles, defaultKeyShare(inv.App)))
	if err != nil {
		return nil, fmt.Errorf("loading key share: %w", err)
	}
	var share signing.KeyShare
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, fmt.Errorf("%w: key share: %w", interfaces.ErrInvalidShare, err)
	}
	if share.ID != n.self {
		return nil, fmt.Errorf("%w: key share belongs to party %d", interfaces.ErrInvalidShare, share.ID)
	}

	mesh, err := n.mesh(ctx, inv.Session, active)
	if err != nil {
		return nil, err
	}
	defer mesh.Close()

	sig, err := signing.RunSign(ctx, mesh, &share, active, params.Message, n.rng, log)
	if err != nil {
		return nil, err
	}
	if len(inv.OutFiles) > 0 && inv.OutFiles[0] != "" {
		if err := store.Put(ctx, inv.OutFiles[0], sig); err != nil {
			return nil, fmt.Errorf("storing signature: %w", err)
		}
	}
	return sig, nil
}
