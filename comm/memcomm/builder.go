package memcomm

import (
	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
	"github.com/partsim/coupler/comm/sendqueue"
)

// Builder assembles in-process channels.
type Builder struct {
	fabric     *Fabric
	localName  string
	remoteName string
	localRank  int
	remoteSize int
	logger     *zap.Logger
}

// MakeBuilder returns a Builder with a single remote rank and a no-op
// logger.
func MakeBuilder() Builder {
	return Builder{remoteSize: 1, logger: zap.NewNop()}
}

// WithFabric sets the fabric both sides rendezvous on.
func (b Builder) WithFabric(f *Fabric) Builder {
	b.fabric = f
	return b
}

// WithLocalParticipant sets the local participant name and rank.
func (b Builder) WithLocalParticipant(name string, rank int) Builder {
	b.localName = name
	b.localRank = rank
	return b
}

// WithRemoteParticipant sets the remote participant name.
func (b Builder) WithRemoteParticipant(name string) Builder {
	b.remoteName = name
	return b
}

// WithRemoteSize sets the number of remote ranks the channel addresses.
func (b Builder) WithRemoteSize(n int) Builder {
	b.remoteSize = n
	return b
}

// WithLogger sets the logger used by the channel.
func (b Builder) WithLogger(l *zap.Logger) Builder {
	b.logger = l
	return b
}

// Build creates the channel. Both sides must build against the same fabric
// with matching names for the links to pair up.
func (b Builder) Build() *Comp {
	if b.fabric == nil {
		panic("memcomm channel requires a fabric")
	}

	if b.localName == "" || b.remoteName == "" {
		panic("memcomm channel requires both participant names")
	}

	if b.remoteSize < 1 {
		panic("memcomm channel requires at least one remote rank")
	}

	c := &Comp{
		localName:  b.localName,
		remoteName: b.remoteName,
		localRank:  b.localRank,
		endpoints:  make(map[int]endpoint, b.remoteSize),
		queue:      sendqueue.New(),
		logger:     b.logger,
	}

	for r := 0; r < b.remoteSize; r++ {
		c.endpoints[r] = b.fabric.endpoint(
			b.localName, b.localRank, b.remoteName, r)
		c.ranks = append(c.ranks, r)
	}

	return c
}

// Intra wires the intra-participant group of the given rank over the
// fabric. Every rank of the participant must call Intra with the same size
// for the leader/follower links to pair up.
func Intra(f *Fabric, participant string, rank, size int) *comm.Group {
	if size == 1 {
		return comm.NewSingleGroup()
	}

	if rank == 0 {
		followers := make([]comm.Channel, 0, size-1)
		for r := 1; r < size; r++ {
			ch := MakeBuilder().
				WithFabric(f).
				WithLocalParticipant(intraName(participant, 0), 0).
				WithRemoteParticipant(intraName(participant, r)).
				Build()
			followers = append(followers, ch)
		}

		return comm.NewLeaderGroup(size, followers)
	}

	leader := MakeBuilder().
		WithFabric(f).
		WithLocalParticipant(intraName(participant, rank), 0).
		WithRemoteParticipant(intraName(participant, 0)).
		Build()

	return comm.NewFollowerGroup(rank, size, leader)
}
