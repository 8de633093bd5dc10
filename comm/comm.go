// Package comm defines the transport abstraction that moves flat numeric
// buffers between the ranks of two coupled participants. Concrete transports
// live in the memcomm and tcpcomm sub-packages.
package comm

// A Channel is an established session between one local rank and a set of
// remote ranks of the partner participant. Data payloads are flat float64
// arrays with no per-message framing visible to the caller; the receiver
// always knows the expected length.
//
// The channel exclusively owns its underlying endpoints from establishment
// until Close. Closing the channel causes pending remote receives to fail
// with ErrClosed rather than hang.
type Channel interface {
	// RemoteRanks returns the remote ranks addressable through this
	// channel, in ascending order.
	RemoteRanks() []int

	// RemoteSize returns the number of addressable remote ranks.
	RemoteSize() int

	// Send transmits buf to the given remote rank. It blocks until the
	// buffer is handed to the transport and fails with a *TransportError
	// on partial I/O.
	Send(buf []float64, dst int) error

	// Recv fills buf with exactly len(buf) values from the given remote
	// rank. It blocks until the data arrives, the channel is closed
	// (ErrClosed), or the transport fails (*TransportError).
	Recv(buf []float64, src int) error

	// SendInts and RecvInts are the integer variants used by the session
	// setup protocol to exchange vertex distribution tables.
	SendInts(buf []int, dst int) error
	RecvInts(buf []int, src int) error

	// ASend enqueues an asynchronous write on the channel's dispatch
	// queue and returns immediately. The buffer is owned by the queue
	// until onDone fires; onDone runs on the I/O goroutine and receives
	// the write error, if any.
	ASend(buf []float64, dst int, onDone func(error))

	// Broadcast sends buf to every remote rank.
	Broadcast(buf []float64) error

	// Scatter sends bufs[i] to RemoteRanks()[i].
	Scatter(bufs [][]float64) error

	// Gather receives counts[i] values from RemoteRanks()[i] and returns
	// the per-rank buffers in the same order.
	Gather(counts []int) ([][]float64, error)

	// Close releases the underlying endpoints. Close is idempotent.
	Close() error
}

// BroadcastOver implements Broadcast in terms of rank-addressed sends. The
// transports share it so that collective semantics stay identical.
func BroadcastOver(c Channel, buf []float64) error {
	for _, dst := range c.RemoteRanks() {
		if err := c.Send(buf, dst); err != nil {
			return err
		}
	}

	return nil
}

// ScatterOver implements Scatter in terms of rank-addressed sends.
func ScatterOver(c Channel, bufs [][]float64) error {
	ranks := c.RemoteRanks()
	if len(bufs) != len(ranks) {
		panic("scatter buffer count does not match remote rank count")
	}

	for i, dst := range ranks {
		if err := c.Send(bufs[i], dst); err != nil {
			return err
		}
	}

	return nil
}

// GatherOver implements Gather in terms of rank-addressed receives.
func GatherOver(c Channel, counts []int) ([][]float64, error) {
	ranks := c.RemoteRanks()
	if len(counts) != len(ranks) {
		panic("gather count list does not match remote rank count")
	}

	out := make([][]float64, len(ranks))
	for i, src := range ranks {
		out[i] = make([]float64, counts[i])
		if err := c.Recv(out[i], src); err != nil {
			return nil, err
		}
	}

	return out, nil
}
