// Package monitoring turns a mapped address space into a small web
// server for interactive inspection: the page table, a memory window,
// and the emulator process's resource usage.
//
// The VMM is single-threaded by contract. The monitor therefore only
// serves a VMM that is not being driven by an emulation context at the
// same time.
package monitoring

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/scanforge/peemu/vm"
)

// Monitor serves the state of one VMM over HTTP.
type Monitor struct {
	vmm        *vm.VMM
	portNumber int
	noBrowser  bool
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port the server listens on.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitoring server. "+
				"Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithoutBrowser stops the monitor from opening the system browser.
func (m *Monitor) WithoutBrowser() *Monitor {
	m.noBrowser = true
	return m
}

// RegisterVMM sets the address space to inspect.
func (m *Monitor) RegisterVMM(v *vm.VMM) {
	m.vmm = v
}

// StartServer starts serving the inspection API. It returns the
// address the server listens on.
func (m *Monitor) StartServer() (string, error) {
	if m.vmm == nil {
		panic("monitoring: no VMM registered")
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Inspecting address space at %s\n", url)

	handler := m.Handler()
	go func() {
		if err := http.Serve(listener, handler); err != nil {
			fmt.Fprintf(os.Stderr, "monitoring server: %v\n", err)
		}
	}()

	if !m.noBrowser {
		_ = browser.OpenURL(url + "/api/pages")
	}

	return url, nil
}

// Handler returns the monitor's HTTP handler without starting a
// server.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/pages", m.listPages)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/read", m.readWindow)

	return r
}

func (m *Monitor) listPages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.vmm.Pages())
}

type statusRsp struct {
	ImageBase  uint32  `json:"image_base"`
	Size       uint32  `json:"size"`
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, statusRsp{
		ImageBase:  m.vmm.ImageBase(),
		Size:       m.vmm.Size(),
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

func (m *Monitor) readWindow(w http.ResponseWriter, r *http.Request) {
	addr, err := strconv.ParseUint(r.URL.Query().Get("addr"), 0, 32)
	if err != nil {
		http.Error(w, "bad addr: "+err.Error(), http.StatusBadRequest)
		return
	}

	length, err := strconv.ParseUint(r.URL.Query().Get("len"), 0, 32)
	if err != nil || length == 0 || length > 64*1024 {
		http.Error(w, "bad len", http.StatusBadRequest)
		return
	}

	buf := make([]byte, length)
	if err := m.vmm.ReadR(uint32(addr), buf); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, hex.Dump(buf))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "monitoring: encode response: %v\n", err)
	}
}
