// Package m2n coordinates data exchange between two participant groups of
// potentially different process counts. Callers address exchanges by data
// and mesh; the per-rank channel topology stays hidden behind the selected
// distribution strategy.
package m2n

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
	"github.com/partsim/coupler/mesh"
)

// A distribution routes the values of one exchange between the two groups.
// Exactly two implementations exist, selected once at configuration time.
type distribution interface {
	prepare(local, remote VertexDistribution) error
	send(values []float64, dims int) error
	receive(values []float64, dims int) error
}

// A Coordinator is the per-rank handle on one participant-pair connection.
// Establish the session once with AcceptConnection or RequestConnection;
// after that, SendData and ReceiveData carry no routing metadata beyond the
// payload itself.
type Coordinator struct {
	localName  string
	remoteName string
	localSize  int
	remoteSize int

	group    *comm.Group
	channel  comm.Channel
	strategy distribution
	logger   *zap.Logger

	requester bool
	connected bool

	localDist  VertexDistribution
	remoteDist VertexDistribution
}

// RequestConnection establishes the session from the requester side: both
// sides exchange rank counts and vertex distribution tables exactly once,
// and the tables stay cached and immutable until Close.
func (c *Coordinator) RequestConnection(m *mesh.Mesh) error {
	c.requester = true
	return c.connect(m)
}

// AcceptConnection establishes the session from the acceptor side.
func (c *Coordinator) AcceptConnection(m *mesh.Mesh) error {
	c.requester = false
	return c.connect(m)
}

func (c *Coordinator) connect(m *mesh.Mesh) error {
	if c.connected {
		panic("m2n connection is established once per session")
	}

	local, err := c.assembleLocalDistribution(m)
	if err != nil {
		return err
	}

	remote, err := c.exchangeDistributions(local)
	if err != nil {
		return err
	}

	c.localDist = local
	c.remoteDist = remote

	if err := c.strategy.prepare(local, remote); err != nil {
		return err
	}

	c.connected = true

	c.logger.Info("m2n session established",
		zap.String("local", c.localName),
		zap.String("remote", c.remoteName),
		zap.Int("localRanks", c.localSize),
		zap.Int("remoteRanks", c.remoteSize),
		zap.Int("localVertices", local.TotalVertices()))

	return nil
}

// assembleLocalDistribution gathers every local rank's global IDs at the
// leader. Followers get a table that only holds their own entry; the full
// table lives where it is needed.
func (c *Coordinator) assembleLocalDistribution(
	m *mesh.Mesh,
) (VertexDistribution, error) {
	ones := make([]int, c.localSize)
	for i := range ones {
		ones[i] = 1
	}

	countRows, err := c.group.GatherIntsAtLeader(
		[]int{m.VertexCount()}, ones)
	if err != nil {
		return nil, err
	}

	if !c.group.IsLeader() {
		local := make(VertexDistribution, c.localSize)
		local[c.group.Rank()] = append([]int(nil), m.GlobalIDs()...)

		if _, err := c.group.GatherIntsAtLeader(m.GlobalIDs(), nil); err != nil {
			return nil, err
		}

		return local, nil
	}

	counts := make([]int, c.localSize)
	for r, row := range countRows {
		counts[r] = row[0]
	}

	rows, err := c.group.GatherIntsAtLeader(m.GlobalIDs(), counts)
	if err != nil {
		return nil, err
	}

	return VertexDistribution(rows), nil
}

// exchangeDistributions swaps the distribution tables leader-to-leader and
// broadcasts the remote table to the local followers. The requester writes
// first; the acceptor reads first.
func (c *Coordinator) exchangeDistributions(
	local VertexDistribution,
) (VertexDistribution, error) {
	var remoteCounts, remoteFlat []int

	if c.group.IsLeader() {
		localCounts, localFlat := local.flatten()

		sendTable := func() error {
			if err := c.channel.SendInts(localCounts, 0); err != nil {
				return err
			}
			return c.channel.SendInts(localFlat, 0)
		}

		recvTable := func() error {
			remoteCounts = make([]int, c.remoteSize)
			if err := c.channel.RecvInts(remoteCounts, 0); err != nil {
				return err
			}

			total := 0
			for _, n := range remoteCounts {
				total += n
			}

			remoteFlat = make([]int, total)
			return c.channel.RecvInts(remoteFlat, 0)
		}

		steps := []func() error{sendTable, recvTable}
		if !c.requester {
			steps = []func() error{recvTable, sendTable}
		}

		for _, step := range steps {
			if err := step(); err != nil {
				return nil, err
			}
		}
	}

	// Followers learn the remote table from the leader.
	if !c.group.IsLeader() {
		remoteCounts = make([]int, c.remoteSize)
	}
	if err := c.group.BroadcastIntsFromLeader(remoteCounts); err != nil {
		return nil, err
	}

	if !c.group.IsLeader() {
		total := 0
		for _, n := range remoteCounts {
			total += n
		}
		remoteFlat = make([]int, total)
	}
	if err := c.group.BroadcastIntsFromLeader(remoteFlat); err != nil {
		return nil, err
	}

	return unflatten(remoteCounts, remoteFlat), nil
}

// SendData moves the named data across the shared mesh to the remote
// participant, through the configured distribution strategy.
func (c *Coordinator) SendData(d *mesh.Data, m *mesh.Mesh) error {
	c.mustBeConnected()

	if err := c.strategy.send(d.Values, d.Dims()); err != nil {
		return fmt.Errorf("sending %q on mesh %q: %w", d.Name(), m.Name(), err)
	}

	return nil
}

// ReceiveData fills the named data with the values sent by the remote
// participant.
func (c *Coordinator) ReceiveData(d *mesh.Data, m *mesh.Mesh) error {
	c.mustBeConnected()

	if err := c.strategy.receive(d.Values, d.Dims()); err != nil {
		return fmt.Errorf("receiving %q on mesh %q: %w",
			d.Name(), m.Name(), err)
	}

	return nil
}

// NegotiateMin returns the minimum of v over every rank of both
// participants, on every local rank. The coupling scheme uses it to fix the
// first time-window length.
func (c *Coordinator) NegotiateMin(v float64) (float64, error) {
	c.mustBeConnected()

	localMin, err := c.group.ReduceMin(v)
	if err != nil {
		return 0, err
	}

	result := []float64{localMin}

	if c.group.IsLeader() {
		send := func() error { return c.channel.Send([]float64{localMin}, 0) }
		recv := func() error {
			remote := make([]float64, 1)
			if err := c.channel.Recv(remote, 0); err != nil {
				return err
			}
			result[0] = math.Min(localMin, remote[0])
			return nil
		}

		steps := []func() error{send, recv}
		if !c.requester {
			steps = []func() error{recv, send}
		}

		for _, step := range steps {
			if err := step(); err != nil {
				return 0, err
			}
		}
	}

	if err := c.group.BroadcastFromLeader(result); err != nil {
		return 0, err
	}

	return result[0], nil
}

// AgreeAll reports whether flag holds on every local rank. The coupling
// scheme uses it to turn per-rank convergence verdicts into one decision.
func (c *Coordinator) AgreeAll(flag bool) (bool, error) {
	c.mustBeConnected()

	v := 1.0
	if !flag {
		v = 0
	}

	agreed, err := c.group.ReduceMin(v)
	if err != nil {
		return false, err
	}

	return agreed == 1, nil
}

// SendFlag transmits a boolean decision leader-to-leader, such as the
// convergence verdict of an implicit iteration.
func (c *Coordinator) SendFlag(flag bool) error {
	c.mustBeConnected()

	if !c.group.IsLeader() {
		return nil
	}

	v := 0
	if flag {
		v = 1
	}

	return c.channel.SendInts([]int{v}, 0)
}

// RecvFlag receives a boolean decision from the remote leader and shares it
// with every local rank.
func (c *Coordinator) RecvFlag() (bool, error) {
	c.mustBeConnected()

	buf := make([]int, 1)

	if c.group.IsLeader() {
		if err := c.channel.RecvInts(buf, 0); err != nil {
			return false, err
		}
	}

	if err := c.group.BroadcastIntsFromLeader(buf); err != nil {
		return false, err
	}

	return buf[0] != 0, nil
}

// LocalDistribution returns the cached local table. Leaders hold all ranks;
// followers hold only their own row.
func (c *Coordinator) LocalDistribution() VertexDistribution {
	c.mustBeConnected()
	return c.localDist
}

// RemoteDistribution returns the cached remote table.
func (c *Coordinator) RemoteDistribution() VertexDistribution {
	c.mustBeConnected()
	return c.remoteDist
}

// RemoteName returns the partner participant's name.
func (c *Coordinator) RemoteName() string { return c.remoteName }

// Close releases the coordinator's channels.
func (c *Coordinator) Close() error {
	var firstErr error

	if c.channel != nil {
		firstErr = c.channel.Close()
	}

	if err := c.group.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (c *Coordinator) mustBeConnected() {
	if !c.connected {
		panic("m2n coordinator used before connection establishment")
	}
}
