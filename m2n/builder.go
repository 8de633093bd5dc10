package m2n

import (
	"go.uber.org/zap"

	"github.com/partsim/coupler/comm"
)

// StrategyKind selects the distribution strategy of a coordinator. The
// choice is made once at configuration time; every call site afterwards is
// strategy-agnostic.
type StrategyKind int

const (
	// GatherScatter routes exchanges through the participant leaders.
	GatherScatter StrategyKind = iota

	// PointToPoint exchanges directly between overlapping rank pairs.
	PointToPoint
)

// Builder assembles a Coordinator for one rank of one participant pair.
type Builder struct {
	localName  string
	remoteName string
	localSize  int
	remoteSize int
	group      *comm.Group
	channel    comm.Channel
	strategy   StrategyKind
	logger     *zap.Logger
}

// MakeBuilder returns a Builder with the gather-scatter strategy and a
// no-op logger.
func MakeBuilder() Builder {
	return Builder{strategy: GatherScatter, logger: zap.NewNop()}
}

// WithLocalParticipant sets the local participant name and rank count.
func (b Builder) WithLocalParticipant(name string, size int) Builder {
	b.localName = name
	b.localSize = size
	return b
}

// WithRemoteParticipant sets the remote participant name and rank count.
func (b Builder) WithRemoteParticipant(name string, size int) Builder {
	b.remoteName = name
	b.remoteSize = size
	return b
}

// WithGroup sets the intra-participant group of this rank.
func (b Builder) WithGroup(g *comm.Group) Builder {
	b.group = g
	return b
}

// WithChannel sets this rank's channel to the remote participant. The
// gather-scatter strategy needs it on the leader only; point-to-point needs
// it on every rank.
func (b Builder) WithChannel(ch comm.Channel) Builder {
	b.channel = ch
	return b
}

// WithStrategy selects the distribution strategy.
func (b Builder) WithStrategy(kind StrategyKind) Builder {
	b.strategy = kind
	return b
}

// WithLogger sets the coordinator's logger.
func (b Builder) WithLogger(l *zap.Logger) Builder {
	b.logger = l
	return b
}

// Build creates the Coordinator.
func (b Builder) Build() *Coordinator {
	if b.localName == "" || b.remoteName == "" {
		panic("m2n coordinator requires both participant names")
	}

	if b.localSize < 1 || b.remoteSize < 1 {
		panic("m2n coordinator requires positive rank counts")
	}

	if b.group == nil {
		panic("m2n coordinator requires an intra-participant group")
	}

	c := &Coordinator{
		localName:  b.localName,
		remoteName: b.remoteName,
		localSize:  b.localSize,
		remoteSize: b.remoteSize,
		group:      b.group,
		channel:    b.channel,
		logger:     b.logger,
	}

	switch b.strategy {
	case GatherScatter:
		if b.group.IsLeader() && b.channel == nil {
			panic("gather-scatter requires a channel on the leader")
		}
		c.strategy = &gatherScatter{
			group:   b.group,
			channel: b.channel,
			logger:  b.logger,
		}
	case PointToPoint:
		if b.channel == nil {
			panic("point-to-point requires a channel on every rank")
		}
		c.strategy = &pointToPoint{
			localRank: b.group.Rank(),
			channel:   b.channel,
			logger:    b.logger,
		}
	default:
		panic("unknown distribution strategy")
	}

	return c
}
