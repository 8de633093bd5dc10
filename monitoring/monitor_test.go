package monitoring

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/partsim/coupler/comm/memcomm"
	"github.com/partsim/coupler/cplscheme"
	"github.com/partsim/coupler/m2n"
	"github.com/partsim/coupler/mesh"
	"github.com/partsim/coupler/recording"
)

// idleScheme builds a scheme that is valid but never driven, so the
// monitor's read-only endpoints can be probed.
func idleScheme() (*cplscheme.Scheme, *m2n.Coordinator) {
	fabric := memcomm.NewFabric()

	m := mesh.NewMesh("Surface", []int{0})
	forces := m.CreateData("Forces", 1)

	coord := m2n.MakeBuilder().
		WithLocalParticipant("Fluid", 1).
		WithRemoteParticipant("Solid", 1).
		WithGroup(memcomm.Intra(fabric, "Fluid", 0, 1)).
		WithChannel(memcomm.MakeBuilder().
			WithFabric(fabric).
			WithLocalParticipant("Fluid", 0).
			WithRemoteParticipant("Solid").
			Build()).
		Build()

	scheme := cplscheme.MakeBuilder().
		WithLocalParticipant("Fluid").
		WithPartner("Solid", coord).
		WithExchange(cplscheme.Exchange{
			Data: forces, Mesh: m, From: "Fluid", To: "Solid",
		}).
		WithTimeWindow(cplscheme.DtFixed, 1.0e-5).
		WithMaxWindows(1).
		Build()

	return scheme, coord
}

var _ = Describe("Monitor", func() {
	var (
		m  *Monitor
		db *sql.DB
	)

	BeforeEach(func() {
		var err error
		db, err = sql.Open("sqlite3", ":memory:")
		Expect(err).To(Succeed())

		rec := recording.NewWithDB(db)
		history := recording.NewHistory(rec)
		history.RecordWindow(1, 1e-5, 3)
		history.RecordWindow(2, 2e-5, 2)
		history.RecordIteration(1, 1, "Forces", 0.5, 1e-6, false)
		history.Flush()

		m = NewMonitor()
		scheme, coord := idleScheme()
		m.RegisterScheme("Fluid", scheme)
		m.RegisterCoordinator("Fluid-Solid", coord)
		m.RegisterHistory(recording.NewHistoryReader(db))

		Expect(m.StartServer()).To(Succeed())
	})

	AfterEach(func() {
		Expect(m.Stop()).To(Succeed())
		db.Close()
	})

	get := func(path string) (int, []byte) {
		rsp, err := http.Get(m.URL() + path)
		Expect(err).To(Succeed())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).To(Succeed())

		return rsp.StatusCode, body
	}

	It("should list registered schemes", func() {
		status, body := get("/api/schemes")

		Expect(status).To(Equal(http.StatusOK))

		var names []string
		Expect(json.Unmarshal(body, &names)).To(Succeed())
		Expect(names).To(Equal([]string{"Fluid"}))
	})

	It("should report scheme progress", func() {
		status, body := get("/api/scheme/Fluid")

		Expect(status).To(Equal(http.StatusOK))

		var progress progressRsp
		Expect(json.Unmarshal(body, &progress)).To(Succeed())
		Expect(progress.State).To(Equal("uninitialized"))
		Expect(progress.Window).To(Equal(0))
	})

	It("should list registered coordinators", func() {
		status, body := get("/api/coordinators")

		Expect(status).To(Equal(http.StatusOK))

		var names []string
		Expect(json.Unmarshal(body, &names)).To(Succeed())
		Expect(names).To(Equal([]string{"Fluid-Solid"}))
	})

	It("should 404 on unknown coordinators", func() {
		status, _ := get("/api/coordinator/Fluid-Structure")
		Expect(status).To(Equal(http.StatusNotFound))
	})

	It("should 404 on unknown schemes", func() {
		status, _ := get("/api/scheme/Structure")
		Expect(status).To(Equal(http.StatusNotFound))
	})

	It("should serve the recorded windows", func() {
		status, body := get("/api/windows")

		Expect(status).To(Equal(http.StatusOK))

		var rsp struct {
			Total   int               `json:"total"`
			Entries []json.RawMessage `json:"entries"`
		}
		Expect(json.Unmarshal(body, &rsp)).To(Succeed())
		Expect(rsp.Total).To(Equal(2))
		Expect(rsp.Entries).To(HaveLen(2))
	})

	It("should filter residuals by window", func() {
		status, body := get("/api/residuals?window=1")

		Expect(status).To(Equal(http.StatusOK))

		var rsp struct {
			Total int `json:"total"`
		}
		Expect(json.Unmarshal(body, &rsp)).To(Succeed())
		Expect(rsp.Total).To(Equal(1))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("time windows", 100)
		bar.IncrementFinished(40)

		status, body := get("/api/progress")
		Expect(status).To(Equal(http.StatusOK))

		var bars []struct {
			Name     string `json:"name"`
			Finished uint64 `json:"finished"`
		}
		Expect(json.Unmarshal(body, &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("time windows"))
		Expect(bars[0].Finished).To(Equal(uint64(40)))

		m.CompleteProgressBar(bar)
		_, body = get("/api/progress")
		Expect(json.Unmarshal(body, &bars)).To(Succeed())
		Expect(bars).To(BeEmpty())
	})

	It("should report process resources", func() {
		status, body := get("/api/resource")

		Expect(status).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(body, &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})
})
