package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// helloRound marks the first frame on a freshly dialed peer connection. Its
// payload is the session id.
const helloRound = 0xFFFFFFFF

type pendingSession struct {
	conns   map[int]net.Conn
	updated chan struct{}
	created time.Time
}

// PeerListener accepts peer connections and routes them to sessions by the
// session id carried in the hello frame. Connections may arrive before the
// local node has started the session; they wait until claimed or expired.
type PeerListener struct {
	ln  net.Listener
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*pendingSession
	closed   bool
}

// NewPeerListener starts accepting on ln.
func NewPeerListener(ln net.Listener, log *slog.Logger) *PeerListener {
	pl := &PeerListener{
		ln:       ln,
		log:      log,
		sessions: make(map[string]*pendingSession),
	}
	go pl.acceptLoop()
	return pl
}

// Addr is the listening address.
func (pl *PeerListener) Addr() net.Addr {
	return pl.ln.Addr()
}

// Close stops accepting and drops unclaimed connections.
func (pl *PeerListener) Close() error {
	pl.mu.Lock()
	pl.closed = true
	for id, s := range pl.sessions {
		for _, c := range s.conns {
			c.Close()
		}
		delete(pl.sessions, id)
	}
	pl.mu.Unlock()
	return pl.ln.Close()
}

func (pl *PeerListener) acceptLoop() {
	for {
		c, err := pl.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			pl.log.Warn("Failed to accept peer connection", "err", err)
			continue
		}
		go pl.handshake(c)
	}
}

func (pl *PeerListener) handshake(c net.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	env, err := NewConn(c).ReadEnvelope(ctx)
	if err != nil || env.Round != helloRound {
		pl.log.Warn("Rejected peer connection without hello", "remote", c.RemoteAddr().String(), "err", err)
		c.Close()
		return
	}

	session := string(env.Payload)
	from := int(env.From)

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		c.Close()
		return
	}
	pl.expireLocked()

	s := pl.sessionLocked(session)
	if old, dup := s.conns[from]; dup {
		old.Close()
	}
	s.conns[from] = c
	close(s.updated)
	s.updated = make(chan struct{})

	pl.log.Debug("Accepted peer connection", "session", session, "from", from)
}

func (pl *PeerListener) sessionLocked(id string) *pendingSession {
	s, ok := pl.sessions[id]
	if !ok {
		s = &pendingSession{
			conns:   make(map[int]net.Conn),
			updated: make(chan struct{}),
			created: time.Now(),
		}
		pl.sessions[id] = s
	}
	return s
}

// expireLocked drops sessions nobody claimed within DefaultTimeout.
func (pl *PeerListener) expireLocked() {
	for id, s := range pl.sessions {
		if time.Since(s.created) > 2*DefaultTimeout {
			for _, c := range s.conns {
				c.Close()
			}
			delete(pl.sessions, id)
		}
	}
}

// Await blocks until every party in from has connected for session.
func (pl *PeerListener) Await(ctx context.Context, session string, from []int) (map[int]net.Conn, error) {
	for {
		pl.mu.Lock()
		if pl.closed {
			pl.mu.Unlock()
			return nil, net.ErrClosed
		}
		s := pl.sessionLocked(session)
		complete := true
		for _, id := range from {
			if _, ok := s.conns[id]; !ok {
				complete = false
				break
			}
		}
		if complete {
			out := make(map[int]net.Conn, len(from))
			for _, id := range from {
				out[id] = s.conns[id]
			}
			delete(pl.sessions, session)
			pl.mu.Unlock()
			return out, nil
		}
		updated := s.updated
		pl.mu.Unlock()

		select {
		case <-updated:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for peers of session %s: %w", session, ctx.Err())
		}
	}
}

// Dial connects to a peer and sends the hello frame for session.
func Dial(ctx context.Context, addr, session string, self int) (net.Conn, error) {
	var d net.Dialer
	var lastErr error
	for attempt := 0; ; attempt++ {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			hello := Envelope{Round: helloRound, From: uint16(self), Payload: []byte(session)}
			if err := NewConn(c).WriteEnvelope(ctx, hello); err != nil {
				c.Close()
				return nil, err
			}
			return c, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w (last error: %v)", addr, ctx.Err(), lastErr)
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
}

// EstablishMesh connects self to every party in peers for one session. Lower
// identifiers are dialed, higher identifiers are awaited on pl.
func EstablishMesh(ctx context.Context, pl *PeerListener, session string, self int, peers []int, addrs map[int]string) (*ConnMesh, error) {
	conns := make(map[int]net.Conn, len(peers))
	closeAll := func() {
		for _, c := range conns {
			c.Close()
		}
	}

	var higher []int
	for _, p := range peers {
		if p == self {
			continue
		}
		if p > self {
			higher = append(higher, p)
			continue
		}
		addr, ok := addrs[p]
		if !ok {
			closeAll()
			return nil, fmt.Errorf("no address for party %d", p)
		}
		c, err := Dial(ctx, addr, session, self)
		if err != nil {
			closeAll()
			return nil, err
		}
		conns[p] = c
	}

	if len(higher) > 0 {
		accepted, err := pl.Await(ctx, session, higher)
		if err != nil {
			closeAll()
			return nil, err
		}
		for id, c := range accepted {
			conns[id] = c
		}
	}

	return NewConnMesh(self, conns), nil
}
