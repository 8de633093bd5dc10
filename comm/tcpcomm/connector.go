package tcpcomm

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/partsim/coupler/comm"
)

// A Connector establishes socket channels. The acceptor side listens and
// waits for the expected number of remote ranks; the requester side dials
// each remote rank's published address. Timeouts apply only here, at
// establishment, never to individual exchanges.
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a Connector. A nil logger disables logging.
func NewConnector(logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Connector{logger: logger}
}

// A Listener waits for remote ranks to connect. Create one with Listen,
// publish Addr to the remote side, then call Accept.
type Listener struct {
	cn       *Connector
	netLst   net.Listener
	local    string
	rank     int
	session  string
	closeMu  sync.Mutex
	isClosed bool
}

// Listen opens the acceptor endpoint. Use an address with port 0 to let the
// OS pick one; Addr reports the bound address.
func (cn *Connector) Listen(
	address, localName string,
	localRank int,
) (*Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, &comm.ConnectionError{Local: localName, Err: err}
	}

	return &Listener{
		cn:      cn,
		netLst:  l,
		local:   localName,
		rank:    localRank,
		session: xid.New().String(),
	}, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() string {
	return l.netLst.Addr().String()
}

// Close stops accepting. Established channels are unaffected.
func (l *Listener) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()

	if l.isClosed {
		return nil
	}
	l.isClosed = true

	return l.netLst.Close()
}

// Accept performs the session handshake with `expect` connecting remote
// ranks of the named participant and returns the established channel. The
// context bounds the whole establishment.
func (l *Listener) Accept(
	ctx context.Context,
	remoteName string,
	expect int,
) (*Comp, error) {
	if expect < 1 {
		panic("acceptor must expect at least one remote rank")
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	conns := make(map[int]*rankConn, expect)

	for len(conns) < expect {
		nc, err := l.netLst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			closeAll(conns)
			return nil, &comm.ConnectionError{
				Local: l.local, Remote: remoteName, Err: err,
			}
		}

		h, err := l.handshakeAccepted(nc, remoteName)
		if err != nil {
			_ = nc.Close()
			closeAll(conns)
			return nil, &comm.ConnectionError{
				Local: l.local, Remote: remoteName, Err: err,
			}
		}

		if _, dup := conns[h.Rank]; dup {
			_ = nc.Close()
			closeAll(conns)
			return nil, &comm.ConnectionError{
				Local: l.local, Remote: remoteName,
				Err: fmt.Errorf("remote rank %d connected twice", h.Rank),
			}
		}

		conns[h.Rank] = newRankConn(nc)

		l.cn.logger.Info("accepted remote rank",
			zap.String("local", l.local),
			zap.String("remote", remoteName),
			zap.Int("remoteRank", h.Rank),
			zap.String("session", l.session))
	}

	return newComp(l.local, l.rank, remoteName, conns, l.cn.logger), nil
}

func (l *Listener) handshakeAccepted(
	nc net.Conn,
	remoteName string,
) (handshake, error) {
	h, err := readHandshake(nc)
	if err != nil {
		return handshake{}, err
	}

	if h.Name != remoteName {
		return handshake{}, fmt.Errorf(
			"participant %q connected, expected %q", h.Name, remoteName)
	}

	reply := handshake{
		Name:      l.local,
		Rank:      l.rank,
		RankCount: 1,
		SessionID: l.session,
	}
	if err := writeHandshake(nc, reply); err != nil {
		return handshake{}, err
	}

	return h, nil
}

// Request dials every remote rank's address, handshakes, and returns the
// established channel. addrs maps remote rank to its published listen
// address. The context bounds the whole establishment.
func (cn *Connector) Request(
	ctx context.Context,
	addrs map[int]string,
	localName string,
	localRank int,
	remoteName string,
) (*Comp, error) {
	if len(addrs) == 0 {
		panic("requester needs at least one remote address")
	}

	var mu sync.Mutex
	conns := make(map[int]*rankConn, len(addrs))

	eg, egCtx := errgroup.WithContext(ctx)
	for rank, addr := range addrs {
		rank, addr := rank, addr
		eg.Go(func() error {
			nc, err := cn.dialRank(egCtx, addr, localName, localRank,
				remoteName, rank)
			if err != nil {
				return err
			}

			mu.Lock()
			conns[rank] = newRankConn(nc)
			mu.Unlock()

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		closeAll(conns)
		return nil, &comm.ConnectionError{
			Local: localName, Remote: remoteName, Err: err,
		}
	}

	return newComp(localName, localRank, remoteName, conns, cn.logger), nil
}

func (cn *Connector) dialRank(
	ctx context.Context,
	addr, localName string,
	localRank int,
	remoteName string,
	remoteRank int,
) (net.Conn, error) {
	var d net.Dialer

	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	req := handshake{Name: localName, Rank: localRank, RankCount: 1}
	if err := writeHandshake(nc, req); err != nil {
		_ = nc.Close()
		return nil, err
	}

	h, err := readHandshake(nc)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}

	if h.Name != remoteName {
		_ = nc.Close()
		return nil, fmt.Errorf(
			"dialed %q, reached participant %q", remoteName, h.Name)
	}

	if h.Rank != remoteRank {
		_ = nc.Close()
		return nil, fmt.Errorf(
			"dialed rank %d of %q, reached rank %d",
			remoteRank, remoteName, h.Rank)
	}

	cn.logger.Info("connected to remote rank",
		zap.String("local", localName),
		zap.String("remote", remoteName),
		zap.Int("remoteRank", remoteRank),
		zap.String("session", h.SessionID))

	return nc, nil
}

func newComp(
	localName string,
	localRank int,
	remoteName string,
	conns map[int]*rankConn,
	logger *zap.Logger,
) *Comp {
	c := &Comp{
		localName:  localName,
		remoteName: remoteName,
		localRank:  localRank,
		conns:      conns,
		logger:     logger,
	}

	for rank := range conns {
		c.ranks = append(c.ranks, rank)
	}
	sort.Ints(c.ranks)

	return c
}

func closeAll(conns map[int]*rankConn) {
	for _, rc := range conns {
		_ = rc.netConn.Close()
	}
}
