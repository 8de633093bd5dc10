// Package cplscheme advances a pair of coupled solvers through time
// windows. An explicit scheme exchanges once per window; an implicit scheme
// iterates each window until the configured convergence measures hold, with
// checkpoint rollback and optional acceleration in between.
package cplscheme

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/partsim/coupler/m2n"
	"github.com/partsim/coupler/mesh"
)

// Kind selects the coupling mode of a scheme.
type Kind int

const (
	// SerialExplicit exchanges once per time window and never iterates.
	SerialExplicit Kind = iota

	// SerialImplicit iterates each window to convergence.
	SerialImplicit
)

// FailurePolicy decides what happens when an implicit window exhausts its
// iteration budget.
type FailurePolicy int

const (
	// FailureAbort returns a *ConvergenceFailure from Advance.
	FailureAbort FailurePolicy = iota

	// FailureAccept commits the last iterate and moves on with a warning.
	FailureAccept
)

// DtPolicy decides how the time-window length is fixed at initialization.
type DtPolicy int

const (
	// DtFixed uses the configured value on both sides as-is.
	DtFixed DtPolicy = iota

	// DtNegotiated agrees on the minimum proposal across both
	// participants.
	DtNegotiated
)

// State is the lifecycle phase of a scheme.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateAdvancing
	StateIterating
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateAdvancing:
		return "advancing"
	case StateIterating:
		return "iterating"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// A HistoryRecorder persists the convergence history of a running scheme.
type HistoryRecorder interface {
	RecordIteration(
		window, iteration int,
		dataName string,
		residual, limit float64,
		converged bool,
	)
	RecordWindow(window int, endTime float64, iterations int)
}

// A Scheme drives one participant's side of a two-participant coupling.
// The typical solver loop is:
//
//	scheme.Initialize()
//	for scheme.IsCouplingOngoing() {
//	    solve(dt)
//	    dt, err = scheme.Advance(dt)
//	}
//	scheme.Finalize()
type Scheme struct {
	kind        Kind
	local       string
	partner     string
	coordinator *m2n.Coordinator
	exchanges   []Exchange

	measures []Measure
	accel    Acceleration
	handler  CheckpointHandler
	recorder HistoryRecorder
	logger   *zap.Logger

	// The controller evaluates the convergence measures and announces
	// the verdict to the partner.
	controller bool

	maxTime       float64
	maxWindows    int
	dtPolicy      DtPolicy
	dtValue       float64
	maxIterations int
	failurePolicy FailurePolicy

	state     State
	time      float64
	window    int
	iteration int
	windowDt  float64

	chk         *Checkpoint
	prevIterate map[string][]float64
}

// Initialize runs the initial exchanges and fixes the time-window length.
// It must be called exactly once, before the first Advance.
func (s *Scheme) Initialize() error {
	if s.state != StateUninitialized {
		panic("coupling scheme initialized twice")
	}

	if err := s.runExchanges(true); err != nil {
		return err
	}

	switch s.dtPolicy {
	case DtFixed:
		s.windowDt = s.dtValue
	case DtNegotiated:
		dt, err := s.coordinator.NegotiateMin(s.dtValue)
		if err != nil {
			return fmt.Errorf("negotiating time-window length: %w", err)
		}
		s.windowDt = dt
	}

	s.state = StateInitialized

	s.logger.Info("coupling scheme initialized",
		zap.String("local", s.local),
		zap.String("partner", s.partner),
		zap.Float64("windowDt", s.windowDt))

	return nil
}

// TimeWindowLength returns the window length fixed at initialization.
func (s *Scheme) TimeWindowLength() float64 {
	s.mustBeRunning()
	return s.windowDt
}

// Time returns the simulated time reached by the committed windows.
func (s *Scheme) Time() float64 { return s.time }

// Window returns the number of committed time windows.
func (s *Scheme) Window() int { return s.window }

// Iteration returns the number of completed iterations in the current
// window. It resets to zero when the window commits.
func (s *Scheme) Iteration() int { return s.iteration }

// CurrentState returns the scheme's lifecycle phase.
func (s *Scheme) CurrentState() State { return s.state }

// IsCouplingOngoing reports whether another Advance is expected. The
// coupling ends when the committed time covers the configured end time,
// within half a window length, or when the window count limit is reached.
func (s *Scheme) IsCouplingOngoing() bool {
	if s.state == StateUninitialized {
		panic("coupling scheme queried before initialization")
	}

	if s.state == StateFinalized {
		return false
	}

	if s.state == StateIterating {
		return true
	}

	if s.maxWindows > 0 && s.window >= s.maxWindows {
		return false
	}

	if s.maxTime > 0 && s.maxTime-s.time <= s.windowDt/2 {
		return false
	}

	return true
}

// Advance completes one solver step: it runs the per-iteration exchanges
// and either commits the time window or, in an implicit scheme that has not
// converged, rolls back for another iteration. The returned value is the
// time-step length the solver must use next.
func (s *Scheme) Advance(proposedDt float64) (float64, error) {
	switch s.state {
	case StateInitialized, StateAdvancing, StateIterating:
	default:
		panic("coupling scheme advanced outside its running phases")
	}

	if proposedDt <= 0 {
		panic("proposed time-step length must be positive")
	}

	if !s.IsCouplingOngoing() {
		panic("coupling scheme advanced past the end of the coupling")
	}

	if s.kind == SerialExplicit {
		return s.advanceExplicit()
	}

	return s.advanceImplicit()
}

func (s *Scheme) advanceExplicit() (float64, error) {
	if err := s.runExchanges(false); err != nil {
		return 0, err
	}

	s.commitWindow(1)

	return s.windowDt, nil
}

func (s *Scheme) advanceImplicit() (float64, error) {
	if s.iteration == 0 {
		s.chk = TakeCheckpoint(s.exchangeData()...)
		s.prevIterate = s.chk.State()

		if s.handler != nil {
			s.handler.SaveState()
		}
	}

	s.iteration++

	if err := s.runExchanges(false); err != nil {
		return 0, err
	}

	converged, err := s.evaluateConvergence()
	if err != nil {
		return 0, err
	}

	if converged {
		s.commitWindow(s.iteration)
		return s.windowDt, nil
	}

	if s.iteration >= s.maxIterations {
		if s.failurePolicy == FailureAbort {
			failure := &ConvergenceFailure{
				Window:     s.window + 1,
				Iterations: s.iteration,
			}

			// Leave the iteration loop so the caller can still
			// finalize cleanly.
			s.iteration = 0
			s.state = StateAdvancing

			return 0, failure
		}

		s.logger.Warn("accepting non-converged time window",
			zap.Int("window", s.window+1),
			zap.Int("iterations", s.iteration))

		s.commitWindow(s.iteration)

		return s.windowDt, nil
	}

	s.state = StateIterating

	if s.controller && s.accel != nil {
		s.accel.Relax(s.prevIterate, s.receivedValues())
	}

	s.prevIterate = s.snapshotIterate()
	s.restoreSentData()

	if s.handler != nil {
		s.handler.RestoreState()
	}

	return s.windowDt, nil
}

// evaluateConvergence checks every measure on the controller and shares the
// verdict with the partner, so both sides take the same branch.
func (s *Scheme) evaluateConvergence() (bool, error) {
	if !s.controller {
		verdict, err := s.coordinator.RecvFlag()
		if err != nil {
			return false, fmt.Errorf("receiving convergence verdict: %w", err)
		}
		return verdict, nil
	}

	all := true
	for _, m := range s.measures {
		name := m.DataName()
		residual, ok := m.Measure(
			s.prevIterate[name], s.dataByName(name).Values)

		if s.recorder != nil {
			s.recorder.RecordIteration(
				s.window+1, s.iteration, name, residual, m.Limit(), ok)
		}

		s.logger.Debug("convergence measure evaluated",
			zap.Int("window", s.window+1),
			zap.Int("iteration", s.iteration),
			zap.String("data", name),
			zap.Float64("residual", residual),
			zap.Float64("limit", m.Limit()),
			zap.Bool("converged", ok))

		all = all && ok
	}

	// On a multi-rank controller, every rank judged its own partition;
	// the window converges only when all of them agree.
	agreed, err := s.coordinator.AgreeAll(all)
	if err != nil {
		return false, fmt.Errorf("agreeing on convergence verdict: %w", err)
	}

	if err := s.coordinator.SendFlag(agreed); err != nil {
		return false, fmt.Errorf("announcing convergence verdict: %w", err)
	}

	return agreed, nil
}

func (s *Scheme) commitWindow(iterations int) {
	s.time += s.windowDt
	s.window++
	s.iteration = 0
	s.chk = nil
	s.prevIterate = nil
	s.state = StateAdvancing

	if s.accel != nil {
		s.accel.Reset()
	}

	if s.recorder != nil {
		s.recorder.RecordWindow(s.window, s.time, iterations)
	}

	s.logger.Debug("time window committed",
		zap.Int("window", s.window),
		zap.Float64("time", s.time),
		zap.Int("iterations", iterations))
}

// Finalize closes the connection to the partner. The scheme cannot be used
// afterwards.
func (s *Scheme) Finalize() error {
	s.mustBeRunning()

	if s.state == StateIterating {
		panic("coupling scheme finalized in the middle of a time window")
	}

	s.state = StateFinalized

	if err := s.coordinator.Close(); err != nil {
		return fmt.Errorf("closing partner connection: %w", err)
	}

	return nil
}

// runExchanges executes the declared exchanges of the given phase in
// order. Sends are posted before the matching receives are awaited, so the
// declared order can never deadlock the pair.
func (s *Scheme) runExchanges(initial bool) error {
	for _, ex := range s.exchanges {
		if ex.Initial != initial {
			continue
		}

		var err error
		if ex.From == s.local {
			err = s.coordinator.SendData(ex.Data, ex.Mesh)
		} else {
			err = s.coordinator.ReceiveData(ex.Data, ex.Mesh)
		}

		if err != nil {
			return fmt.Errorf("exchange %s->%s: %w", ex.From, ex.To, err)
		}
	}

	return nil
}

// exchangeData lists the distinct data objects touched by the
// per-iteration exchanges, in declaration order.
func (s *Scheme) exchangeData() []*mesh.Data {
	var (
		seen = make(map[string]bool)
		data []*mesh.Data
	)

	for _, ex := range s.exchanges {
		if ex.Initial || seen[ex.Data.Name()] {
			continue
		}

		seen[ex.Data.Name()] = true
		data = append(data, ex.Data)
	}

	return data
}

func (s *Scheme) dataByName(name string) *mesh.Data {
	for _, ex := range s.exchanges {
		if ex.Data.Name() == name {
			return ex.Data
		}
	}

	panic("convergence measure references undeclared data " + name)
}

// receivedValues exposes the locally received data vectors for in-place
// acceleration.
func (s *Scheme) receivedValues() map[string][]float64 {
	values := make(map[string][]float64)

	for _, ex := range s.exchanges {
		if ex.Initial || ex.To != s.local {
			continue
		}
		values[ex.Data.Name()] = ex.Data.Values
	}

	return values
}

func (s *Scheme) snapshotIterate() map[string][]float64 {
	iterate := make(map[string][]float64)

	for _, d := range s.exchangeData() {
		iterate[d.Name()] = d.Snapshot()
	}

	return iterate
}

// restoreSentData rolls the locally produced data back to the window
// start, so the solver recomputes the retry from identical coupling inputs.
func (s *Scheme) restoreSentData() {
	for _, ex := range s.exchanges {
		if ex.Initial || ex.From != s.local {
			continue
		}
		s.chk.RestoreOne(ex.Data.Name())
	}
}

func (s *Scheme) mustBeRunning() {
	switch s.state {
	case StateInitialized, StateAdvancing, StateIterating:
	default:
		panic("coupling scheme is not in a running phase")
	}
}
