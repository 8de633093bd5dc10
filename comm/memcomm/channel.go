package memcomm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
	"github.com/partsim/coupler/comm/sendqueue"
)

// Comp is the in-process implementation of comm.Channel. One Comp connects
// one local rank to every rank of the remote participant.
type Comp struct {
	localName  string
	remoteName string
	localRank  int

	endpoints map[int]endpoint
	ranks     []int
	queue     *sendqueue.Queue
	logger    *zap.Logger
}

// RemoteRanks returns the addressable remote ranks in ascending order.
func (c *Comp) RemoteRanks() []int {
	return c.ranks
}

// RemoteSize returns the number of addressable remote ranks.
func (c *Comp) RemoteSize() int {
	return len(c.ranks)
}

// Send transmits a copy of buf to the given remote rank. It blocks only
// when the link buffer is full and fails with comm.ErrClosed once the link
// is closed.
func (c *Comp) Send(buf []float64, dst int) error {
	return c.post(message{floats: append([]float64(nil), buf...)}, dst)
}

// SendInts transmits a copy of buf to the given remote rank.
func (c *Comp) SendInts(buf []int, dst int) error {
	return c.post(message{ints: append([]int(nil), buf...)}, dst)
}

func (c *Comp) post(m message, dst int) error {
	ep := c.endpointFor(dst)

	select {
	case <-ep.l.closed:
		return comm.ErrClosed
	default:
	}

	select {
	case ep.send <- m:
		return nil
	case <-ep.l.closed:
		return comm.ErrClosed
	}
}

// Recv fills buf with the next message from the given remote rank. A close
// of the link fails the receive with comm.ErrClosed instead of blocking
// forever; messages already delivered to the link are drained first.
func (c *Comp) Recv(buf []float64, src int) error {
	ep := c.endpointFor(src)

	m, err := c.take(ep, src)
	if err != nil {
		return err
	}

	if len(m.floats) != len(buf) {
		return &comm.TransportError{
			Op:   "recv from",
			Rank: src,
			Err:  errLengthMismatch(len(m.floats), len(buf)),
		}
	}

	copy(buf, m.floats)

	return nil
}

// RecvInts fills buf with the next integer message from the given rank.
func (c *Comp) RecvInts(buf []int, src int) error {
	ep := c.endpointFor(src)

	m, err := c.take(ep, src)
	if err != nil {
		return err
	}

	if len(m.ints) != len(buf) {
		return &comm.TransportError{
			Op:   "recv from",
			Rank: src,
			Err:  errLengthMismatch(len(m.ints), len(buf)),
		}
	}

	copy(buf, m.ints)

	return nil
}

func (c *Comp) take(ep endpoint, src int) (message, error) {
	// Prefer data that already arrived over a concurrent close.
	select {
	case m := <-ep.recv:
		return m, nil
	default:
	}

	select {
	case m := <-ep.recv:
		return m, nil
	case <-ep.l.closed:
		c.logger.Debug("receive interrupted by close",
			zap.String("local", c.localName),
			zap.String("remote", c.remoteName),
			zap.Int("srcRank", src))
		return message{}, comm.ErrClosed
	}
}

// ASend enqueues the write on the channel's dispatch queue and returns
// immediately.
func (c *Comp) ASend(buf []float64, dst int, onDone func(error)) {
	c.queue.Push(&queueEndpoint{c: c, dst: dst}, buf, onDone)
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

// Close closes every link of the channel, unblocking pending receives on
// both sides.
func (c *Comp) Close() error {
	for _, ep := range c.endpoints {
		ep.l.close()
	}

	return nil
}

func (c *Comp) endpointFor(rank int) endpoint {
	ep, ok := c.endpoints[rank]
	if !ok {
		panic("remote rank not addressable through this channel")
	}

	return ep
}

// queueEndpoint adapts one remote rank of the channel to the dispatch
// queue's endpoint contract.
type queueEndpoint struct {
	c   *Comp
	dst int
}

func (e *queueEndpoint) WriteValues(buf []float64) error {
	return e.c.Send(buf, e.dst)
}

func errLengthMismatch(got, want int) error {
	return fmt.Errorf("message holds %d values, receiver expects %d",
		got, want)
}
