package recording

// WindowEntry is one committed time window.
type WindowEntry struct {
	Window     int
	EndTime    float64
	Iterations int
}

// IterationEntry is one convergence-measure evaluation of an implicit
// iteration.
type IterationEntry struct {
	Window    int
	Iteration int
	DataName  string
	Residual  float64
	Limit     float64
	Converged bool
}

// ExchangeEntry is one data transfer between the participants.
type ExchangeEntry struct {
	Window   int
	DataName string
	MeshName string
	From     string
	To       string
	Values   int
}

const (
	windowTable    = "window_log"
	iterationTable = "iteration_log"
	exchangeTable  = "exchange_log"
)

// History feeds a running coupling scheme's convergence history into a
// Recorder. It satisfies the scheme's HistoryRecorder interface.
type History struct {
	rec Recorder
}

// NewHistory creates the history tables on the given Recorder.
func NewHistory(rec Recorder) *History {
	rec.CreateTable(windowTable, WindowEntry{})
	rec.CreateTable(iterationTable, IterationEntry{})
	rec.CreateTable(exchangeTable, ExchangeEntry{})

	return &History{rec: rec}
}

// RecordIteration logs one convergence-measure evaluation.
func (h *History) RecordIteration(
	window, iteration int,
	dataName string,
	residual, limit float64,
	converged bool,
) {
	h.rec.InsertData(iterationTable, IterationEntry{
		Window:    window,
		Iteration: iteration,
		DataName:  dataName,
		Residual:  residual,
		Limit:     limit,
		Converged: converged,
	})
}

// RecordWindow logs one committed time window.
func (h *History) RecordWindow(window int, endTime float64, iterations int) {
	h.rec.InsertData(windowTable, WindowEntry{
		Window:     window,
		EndTime:    endTime,
		Iterations: iterations,
	})
}

// RecordExchange logs one data transfer.
func (h *History) RecordExchange(
	window int,
	dataName, meshName, from, to string,
	values int,
) {
	h.rec.InsertData(exchangeTable, ExchangeEntry{
		Window:   window,
		DataName: dataName,
		MeshName: meshName,
		From:     from,
		To:       to,
		Values:   values,
	})
}

// Flush forces the buffered history out to the database.
func (h *History) Flush() {
	h.rec.Flush()
}
