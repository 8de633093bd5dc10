// Package monitoring turns a running coupled simulation into a small web
// server, so the progress and convergence history of a long run can be
// watched and profiled from outside the process.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"

	"github.com/partsim/coupler/cplscheme"
	"github.com/partsim/coupler/m2n"
	"github.com/partsim/coupler/recording"
)

// Monitor serves the state of registered coupling schemes over HTTP.
type Monitor struct {
	portNumber int
	logger     *zap.Logger

	mu           sync.Mutex
	schemes      map[string]*cplscheme.Scheme
	coordinators map[string]*m2n.Coordinator
	history      recording.Reader
	progressBars []*ProgressBar

	listener net.Listener
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		logger:       zap.NewNop(),
		schemes:      make(map[string]*cplscheme.Scheme),
		coordinators: make(map[string]*m2n.Coordinator),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced with a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the monitor's logger.
func (m *Monitor) WithLogger(l *zap.Logger) *Monitor {
	m.logger = l
	return m
}

// RegisterScheme registers a coupling scheme to be monitored under the
// given name, typically the participant name.
func (m *Monitor) RegisterScheme(name string, s *cplscheme.Scheme) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schemes[name] = s
}

// RegisterCoordinator registers a participant-pair coordinator under the
// given name, typically "<from>-<to>".
func (m *Monitor) RegisterCoordinator(name string, c *m2n.Coordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.coordinators[name] = c
}

// RegisterHistory attaches a run-history reader backing the windows and
// residuals endpoints.
func (m *Monitor) RegisterHistory(r recording.Reader) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = r
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the monitor.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// StartServer starts the monitor as a web server.
func (m *Monitor) StartServer() error {
	r := mux.NewRouter()

	r.HandleFunc("/api/schemes", m.listSchemes)
	r.HandleFunc("/api/scheme/{name}", m.schemeProgress)
	r.HandleFunc("/api/state/{name}", m.schemeState)
	r.HandleFunc("/api/coordinators", m.listCoordinators)
	r.HandleFunc("/api/coordinator/{name}", m.coordinatorState)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/windows", m.listWindows)
	r.HandleFunc("/api/residuals", m.listResiduals)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return err
	}

	m.listener = listener

	m.logger.Info("monitoring server started",
		zap.String("url", m.URL()))

	go func() {
		if err := http.Serve(listener, r); err != nil {
			m.logger.Debug("monitoring server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Port returns the port the server listens on.
func (m *Monitor) Port() int {
	return m.listener.Addr().(*net.TCPAddr).Port
}

// URL returns the server's base URL.
func (m *Monitor) URL() string {
	return fmt.Sprintf("http://localhost:%d", m.Port())
}

// OpenDashboard opens the monitor in the system browser.
func (m *Monitor) OpenDashboard() error {
	return browser.OpenURL(m.URL())
}

// Stop shuts the server down.
func (m *Monitor) Stop() error {
	return m.listener.Close()
}

func (m *Monitor) listSchemes(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	names := make([]string, 0, len(m.schemes))
	for name := range m.schemes {
		names = append(names, name)
	}
	m.mu.Unlock()

	sort.Strings(names)

	writeJSON(w, names)
}

type progressRsp struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Window    int     `json:"window"`
	Iteration int     `json:"iteration"`
	Time      float64 `json:"time"`
}

func (m *Monitor) schemeProgress(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s := m.findSchemeOr404(w, name)
	if s == nil {
		return
	}

	writeJSON(w, progressRsp{
		Name:      name,
		State:     s.CurrentState().String(),
		Window:    s.Window(),
		Iteration: s.Iteration(),
		Time:      s.Time(),
	})
}

func (m *Monitor) schemeState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s := m.findSchemeOr404(w, name)
	if s == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(s)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.logger.Error("serializing scheme state", zap.Error(err))
	}
}

func (m *Monitor) listCoordinators(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	names := make([]string, 0, len(m.coordinators))
	for name := range m.coordinators {
		names = append(names, name)
	}
	m.mu.Unlock()

	sort.Strings(names)

	writeJSON(w, names)
}

func (m *Monitor) coordinatorState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	m.mu.Lock()
	c, ok := m.coordinators[name]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "coordinator not found")
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.logger.Error("serializing coordinator state", zap.Error(err))
	}
}

func (m *Monitor) listWindows(w http.ResponseWriter, r *http.Request) {
	m.queryHistory(w, r, "window_log", "Window")
}

func (m *Monitor) listResiduals(w http.ResponseWriter, r *http.Request) {
	m.queryHistory(w, r, "iteration_log", "Window, Iteration")
}

func (m *Monitor) queryHistory(
	w http.ResponseWriter,
	r *http.Request,
	table, orderBy string,
) {
	m.mu.Lock()
	history := m.history
	m.mu.Unlock()

	if history == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "no run history registered")
		return
	}

	params := recording.QueryParams{OrderBy: orderBy}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		params.Limit = n
	}

	if window := r.URL.Query().Get("window"); window != "" {
		n, err := strconv.Atoi(window)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		params.Where = "Window = ?"
		params.Args = []any{n}
	}

	results, total, err := history.Query(r.Context(), table, params)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	writeJSON(w, map[string]any{
		"total":   total,
		"entries": results,
	})
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	bars := make([]*ProgressBar, len(m.progressBars))
	copy(bars, m.progressBars)
	m.mu.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	select {
	case <-time.After(time.Second):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	if r.Context().Err() == context.Canceled {
		return
	}

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func (m *Monitor) findSchemeOr404(
	w http.ResponseWriter,
	name string,
) *cplscheme.Scheme {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schemes[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "scheme not found")
		return nil
	}

	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	_, _ = w.Write(data)
}
