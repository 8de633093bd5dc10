package cplscheme

import (
	"go.uber.org/zap"

	"github.com/partsim/coupler/m2n"
)

// Builder assembles one participant's side of a coupling scheme.
type Builder struct {
	kind          Kind
	local         string
	partner       string
	coordinator   *m2n.Coordinator
	exchanges     []Exchange
	measures      []Measure
	accel         Acceleration
	handler       CheckpointHandler
	recorder      HistoryRecorder
	logger        *zap.Logger
	controller    bool
	maxTime       float64
	maxWindows    int
	dtPolicy      DtPolicy
	dtValue       float64
	maxIterations int
	failurePolicy FailurePolicy
}

// MakeBuilder returns a Builder for a serial-explicit scheme with a fixed
// time-window length, the abort failure policy, and a no-op logger.
func MakeBuilder() Builder {
	return Builder{
		kind:          SerialExplicit,
		dtPolicy:      DtFixed,
		failurePolicy: FailureAbort,
		logger:        zap.NewNop(),
	}
}

// WithKind selects the coupling mode.
func (b Builder) WithKind(kind Kind) Builder {
	b.kind = kind
	return b
}

// WithLocalParticipant names the participant this scheme runs in.
func (b Builder) WithLocalParticipant(name string) Builder {
	b.local = name
	return b
}

// WithPartner sets the partner participant and the coordinator reaching it.
func (b Builder) WithPartner(name string, c *m2n.Coordinator) Builder {
	b.partner = name
	b.coordinator = c
	return b
}

// WithExchange appends one directed exchange. Exchanges execute in the
// order they are added.
func (b Builder) WithExchange(ex Exchange) Builder {
	b.exchanges = append(b.exchanges, ex)
	return b
}

// WithMeasure appends a convergence measure. Only valid for implicit
// schemes.
func (b Builder) WithMeasure(m Measure) Builder {
	b.measures = append(b.measures, m)
	return b
}

// WithAcceleration sets the acceleration applied between implicit
// iterations.
func (b Builder) WithAcceleration(a Acceleration) Builder {
	b.accel = a
	return b
}

// WithCheckpointHandler registers the solver's state rollback hook.
func (b Builder) WithCheckpointHandler(h CheckpointHandler) Builder {
	b.handler = h
	return b
}

// WithRecorder registers a convergence-history sink.
func (b Builder) WithRecorder(r HistoryRecorder) Builder {
	b.recorder = r
	return b
}

// WithControllerRole marks this side as the one evaluating convergence.
// Exactly one side of an implicit scheme must be the controller.
func (b Builder) WithControllerRole(controller bool) Builder {
	b.controller = controller
	return b
}

// WithMaxTime bounds the coupled simulation time. Zero means unbounded.
func (b Builder) WithMaxTime(t float64) Builder {
	b.maxTime = t
	return b
}

// WithMaxWindows bounds the number of time windows. Zero means unbounded.
func (b Builder) WithMaxWindows(n int) Builder {
	b.maxWindows = n
	return b
}

// WithTimeWindow sets the window-length policy and this side's value or
// proposal.
func (b Builder) WithTimeWindow(policy DtPolicy, dt float64) Builder {
	b.dtPolicy = policy
	b.dtValue = dt
	return b
}

// WithMaxIterations bounds the iterations of one implicit window.
func (b Builder) WithMaxIterations(n int) Builder {
	b.maxIterations = n
	return b
}

// WithFailurePolicy decides how an exhausted iteration budget is handled.
func (b Builder) WithFailurePolicy(p FailurePolicy) Builder {
	b.failurePolicy = p
	return b
}

// WithLogger sets the scheme's logger.
func (b Builder) WithLogger(l *zap.Logger) Builder {
	b.logger = l
	return b
}

// Build creates the Scheme.
func (b Builder) Build() *Scheme {
	if b.local == "" || b.partner == "" {
		panic("coupling scheme requires both participant names")
	}

	if b.coordinator == nil {
		panic("coupling scheme requires a partner coordinator")
	}

	if len(b.exchanges) == 0 {
		panic("coupling scheme requires at least one exchange")
	}

	b.validateExchanges()

	if b.dtValue <= 0 {
		panic("coupling scheme requires a positive time-window length")
	}

	if b.maxTime <= 0 && b.maxWindows <= 0 {
		panic("coupling scheme requires a time or window bound")
	}

	switch b.kind {
	case SerialExplicit:
		if len(b.measures) > 0 {
			panic("convergence measures require an implicit scheme")
		}
		if b.accel != nil {
			panic("acceleration requires an implicit scheme")
		}
	case SerialImplicit:
		b.validateImplicit()
	default:
		panic("unknown coupling scheme kind")
	}

	return &Scheme{
		kind:          b.kind,
		local:         b.local,
		partner:       b.partner,
		coordinator:   b.coordinator,
		exchanges:     b.exchanges,
		measures:      b.measures,
		accel:         b.accel,
		handler:       b.handler,
		recorder:      b.recorder,
		logger:        b.logger,
		controller:    b.controller,
		maxTime:       b.maxTime,
		maxWindows:    b.maxWindows,
		dtPolicy:      b.dtPolicy,
		dtValue:       b.dtValue,
		maxIterations: b.maxIterations,
		failurePolicy: b.failurePolicy,
	}
}

func (b Builder) validateExchanges() {
	for _, ex := range b.exchanges {
		if ex.Data == nil || ex.Mesh == nil {
			panic("exchange requires data and mesh")
		}

		if !ex.Mesh.HasData(ex.Data.Name()) {
			panic("exchange data " + ex.Data.Name() +
				" is not declared on mesh " + ex.Mesh.Name())
		}

		localInvolved := ex.From == b.local || ex.To == b.local
		partnerInvolved := ex.From == b.partner || ex.To == b.partner

		if !localInvolved || !partnerInvolved || ex.From == ex.To {
			panic("exchange must connect the two scheme participants")
		}
	}
}

func (b Builder) validateImplicit() {
	if b.maxIterations < 1 {
		panic("implicit scheme requires a positive iteration limit")
	}

	if b.controller && len(b.measures) == 0 {
		panic("implicit scheme controller requires a convergence measure")
	}

	declared := make(map[string]bool)
	for _, ex := range b.exchanges {
		declared[ex.Data.Name()] = true
	}

	for _, m := range b.measures {
		if !declared[m.DataName()] {
			panic("convergence measure references undeclared data " +
				m.DataName())
		}
	}
}
