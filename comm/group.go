package comm

import "math"

// A Group provides the intra-participant collectives used by the
// gather-scatter distribution strategy and by time-window negotiation. Rank
// 0 is the leader. Every rank of the participant must take part in each
// collective call.
//
// A Group is wired from one channel per leader/follower pair; a single-rank
// participant needs no channels at all.
type Group struct {
	rank int
	size int

	// Leader side only: followers[i] reaches rank i+1.
	followers []Channel

	// Follower side only.
	leader Channel
}

// NewLeaderGroup creates the rank-0 view of a participant group. followers
// must hold size-1 channels, one per follower rank in ascending order.
func NewLeaderGroup(size int, followers []Channel) *Group {
	if len(followers) != size-1 {
		panic("leader group needs one channel per follower")
	}

	return &Group{rank: 0, size: size, followers: followers}
}

// NewFollowerGroup creates the view of a non-leader rank.
func NewFollowerGroup(rank, size int, leader Channel) *Group {
	if rank <= 0 || rank >= size {
		panic("follower rank out of range")
	}

	return &Group{rank: rank, size: size, leader: leader}
}

// NewSingleGroup creates the trivial group of a serial participant.
func NewSingleGroup() *Group {
	return &Group{rank: 0, size: 1}
}

// Rank returns the local rank within the participant.
func (g *Group) Rank() int { return g.rank }

// Size returns the number of ranks in the participant.
func (g *Group) Size() int { return g.size }

// IsLeader reports whether this rank is the group leader.
func (g *Group) IsLeader() bool { return g.rank == 0 }

// GatherAtLeader collects each rank's local buffer at the leader. counts
// gives the expected buffer length per rank and is only consulted by the
// leader. The leader returns one buffer per rank; followers return nil.
func (g *Group) GatherAtLeader(
	local []float64,
	counts []int,
) ([][]float64, error) {
	if !g.IsLeader() {
		return nil, g.leader.Send(local, 0)
	}

	out := make([][]float64, g.size)
	out[0] = append([]float64(nil), local...)

	for i, ch := range g.followers {
		out[i+1] = make([]float64, counts[i+1])
		if err := ch.Recv(out[i+1], 0); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// GatherIntsAtLeader is the integer variant used for vertex distribution
// tables.
func (g *Group) GatherIntsAtLeader(local []int, counts []int) ([][]int, error) {
	if !g.IsLeader() {
		return nil, g.leader.SendInts(local, 0)
	}

	out := make([][]int, g.size)
	out[0] = append([]int(nil), local...)

	for i, ch := range g.followers {
		out[i+1] = make([]int, counts[i+1])
		if err := ch.RecvInts(out[i+1], 0); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// ScatterFromLeader distributes parts[r] to rank r, filling recv on every
// rank. parts is only consulted by the leader.
func (g *Group) ScatterFromLeader(parts [][]float64, recv []float64) error {
	if !g.IsLeader() {
		return g.leader.Recv(recv, 0)
	}

	copy(recv, parts[0])

	for i, ch := range g.followers {
		if err := ch.Send(parts[i+1], 0); err != nil {
			return err
		}
	}

	return nil
}

// BroadcastFromLeader sends the leader's buf to every rank, filling buf on
// the followers.
func (g *Group) BroadcastFromLeader(buf []float64) error {
	if !g.IsLeader() {
		return g.leader.Recv(buf, 0)
	}

	for _, ch := range g.followers {
		if err := ch.Send(buf, 0); err != nil {
			return err
		}
	}

	return nil
}

// BroadcastIntsFromLeader is the integer variant of BroadcastFromLeader.
func (g *Group) BroadcastIntsFromLeader(buf []int) error {
	if !g.IsLeader() {
		return g.leader.RecvInts(buf, 0)
	}

	for _, ch := range g.followers {
		if err := ch.SendInts(buf, 0); err != nil {
			return err
		}
	}

	return nil
}

// ReduceMin returns the minimum of v over all ranks of the participant, on
// every rank.
func (g *Group) ReduceMin(v float64) (float64, error) {
	if !g.IsLeader() {
		if err := g.leader.Send([]float64{v}, 0); err != nil {
			return 0, err
		}

		res := make([]float64, 1)
		if err := g.leader.Recv(res, 0); err != nil {
			return 0, err
		}

		return res[0], nil
	}

	minVal := v
	buf := make([]float64, 1)

	for _, ch := range g.followers {
		if err := ch.Recv(buf, 0); err != nil {
			return 0, err
		}

		minVal = math.Min(minVal, buf[0])
	}

	if err := g.BroadcastFromLeader([]float64{minVal}); err != nil {
		return 0, err
	}

	return minVal, nil
}

// Close closes the group's channels.
func (g *Group) Close() error {
	var firstErr error

	if g.leader != nil {
		firstErr = g.leader.Close()
	}

	for _, ch := range g.followers {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
