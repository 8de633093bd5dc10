// Package tcpcomm provides the socket transport. Each side of a connection
// handshakes with its participant name and rank; after that, payloads cross
// the wire as raw little-endian arrays with no per-message header.
package tcpcomm

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
	"github.com/partsim/coupler/comm/sendqueue"
)

// Comp is the socket implementation of comm.Channel. It owns one TCP
// connection per addressable remote rank, each with its own dispatch queue
// so that write ordering is per remote connection.
type Comp struct {
	localName  string
	remoteName string
	localRank  int

	conns map[int]*rankConn
	ranks []int

	logger *zap.Logger
}

// rankConn is the endpoint to one remote rank.
type rankConn struct {
	netConn net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	queue   *sendqueue.Queue
}

func newRankConn(c net.Conn) *rankConn {
	return &rankConn{
		netConn: c,
		reader:  bufio.NewReader(c),
		queue:   sendqueue.New(),
	}
}

// RemoteRanks returns the addressable remote ranks in ascending order.
func (c *Comp) RemoteRanks() []int { return c.ranks }

// RemoteSize returns the number of addressable remote ranks.
func (c *Comp) RemoteSize() int { return len(c.conns) }

// Send writes buf to the given remote rank, blocking until the transport
// accepted the whole buffer.
func (c *Comp) Send(buf []float64, dst int) error {
	return c.write(encodeFloats(buf), dst)
}

// SendInts writes buf to the given remote rank.
func (c *Comp) SendInts(buf []int, dst int) error {
	return c.write(encodeInts(buf), dst)
}

func (c *Comp) write(raw []byte, dst int) error {
	rc := c.connFor(dst)

	rc.writeMu.Lock()
	_, err := rc.netConn.Write(raw)
	rc.writeMu.Unlock()

	if err != nil {
		return c.mapError("send to", dst, err)
	}

	return nil
}

// Recv fills buf with exactly len(buf) values from the given remote rank.
// A close of either endpoint fails the receive with comm.ErrClosed.
func (c *Comp) Recv(buf []float64, src int) error {
	raw, err := c.read(8*len(buf), src)
	if err != nil {
		return err
	}

	decodeFloats(raw, buf)

	return nil
}

// RecvInts fills buf with exactly len(buf) integers from the given rank.
func (c *Comp) RecvInts(buf []int, src int) error {
	raw, err := c.read(8*len(buf), src)
	if err != nil {
		return err
	}

	decodeInts(raw, buf)

	return nil
}

func (c *Comp) read(n int, src int) ([]byte, error) {
	rc := c.connFor(src)

	raw := make([]byte, n)
	if _, err := io.ReadFull(rc.reader, raw); err != nil {
		return nil, c.mapError("recv from", src, err)
	}

	return raw, nil
}

// ASend enqueues the write on the destination connection's dispatch queue
// and returns immediately.
func (c *Comp) ASend(buf []float64, dst int, onDone func(error)) {
	rc := c.connFor(dst)
	rc.queue.Push(&queueEndpoint{c: c, dst: dst}, buf, onDone)
}

// Broadcast sends buf to every remote rank.
func (c *Comp) Broadcast(buf []float64) error {
	return comm.BroadcastOver(c, buf)
}

// Scatter sends bufs[i] to the i-th remote rank.
func (c *Comp) Scatter(bufs [][]float64) error {
	return comm.ScatterOver(c, bufs)
}

// Gather receives counts[i] values from the i-th remote rank.
func (c *Comp) Gather(counts []int) ([][]float64, error) {
	return comm.GatherOver(c, counts)
}

// Close closes every connection, failing pending receives on both sides
// with comm.ErrClosed.
func (c *Comp) Close() error {
	var firstErr error

	for _, rc := range c.conns {
		if err := rc.netConn.Close(); err != nil && firstErr == nil &&
			!errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}

	return firstErr
}

func (c *Comp) connFor(rank int) *rankConn {
	rc, ok := c.conns[rank]
	if !ok {
		panic("remote rank not addressable through this channel")
	}

	return rc
}

// mapError folds transport failures into the error taxonomy: an orderly
// close on either side surfaces as comm.ErrClosed, everything else as a
// *comm.TransportError. An EOF in the middle of a buffer is partial I/O,
// not a close.
func (c *Comp) mapError(op string, rank int, err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		c.logger.Debug("operation interrupted by close",
			zap.String("op", op),
			zap.String("local", c.localName),
			zap.String("remote", c.remoteName),
			zap.Int("rank", rank))
		return comm.ErrClosed
	}

	return &comm.TransportError{Op: op, Rank: rank, Err: err}
}

type queueEndpoint struct {
	c   *Comp
	dst int
}

func (e *queueEndpoint) WriteValues(buf []float64) error {
	return e.c.Send(buf, e.dst)
}
