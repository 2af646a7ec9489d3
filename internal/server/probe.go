// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sustainable-computing-io/amdgpu-top/internal/monitor"
	"github.com/sustainable-computing-io/amdgpu-top/internal/service"
	"k8s.io/utils/clock"
)

type probe struct {
	api     APIService
	monitor monitor.StatProvider
	clock   clock.PassiveClock
	// maxAge is how old the snapshot may get before livez fails; 0 disables the check
	maxAge time.Duration
}

var (
	_ service.Service     = (*probe)(nil)
	_ service.Initializer = (*probe)(nil)
)

type deviceStatus struct {
	Device string `json:"device"`
	State  string `json:"state"`
}

type probeResponse struct {
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Age     string         `json:"age,omitempty"`
	Devices []deviceStatus `json:"devices,omitempty"`
}

// NewProbe creates the /probe/livez and /probe/readyz endpoints. livez fails
// once the latest snapshot is older than maxAge.
func NewProbe(api APIService, pm monitor.StatProvider, maxAge time.Duration) *probe {
	return &probe{
		api:     api,
		monitor: pm,
		clock:   clock.RealClock{},
		maxAge:  maxAge,
	}
}

func (p *probe) Name() string {
	return "probe"
}

func (p *probe) Init() error {
	return p.api.Register("/probe/", "probe", "Health check endpoints", p.handlers())
}

func (p *probe) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /probe/readyz", p.readyz)
	mux.HandleFunc("GET /probe/livez", p.livez)
	return mux
}

// readyz succeeds once a snapshot with at least one device is published
func (p *probe) readyz(w http.ResponseWriter, r *http.Request) {
	snapshot, err := p.monitor.Snapshot()
	if err != nil {
		respond(w, http.StatusServiceUnavailable, probeResponse{Status: "not ready", Reason: err.Error()})
		return
	}
	if len(snapshot.Devices) == 0 {
		respond(w, http.StatusServiceUnavailable, probeResponse{Status: "not ready", Reason: "no device sampled"})
		return
	}

	devices := make([]deviceStatus, 0, len(snapshot.Devices))
	for _, d := range snapshot.Devices {
		devices = append(devices, deviceStatus{Device: d.PCI, State: d.PowerState.String()})
	}
	respond(w, http.StatusOK, probeResponse{Status: "ok", Devices: devices})
}

// livez succeeds while snapshots keep being published
func (p *probe) livez(w http.ResponseWriter, r *http.Request) {
	snapshot, err := p.monitor.Snapshot()
	if err != nil {
		respond(w, http.StatusServiceUnavailable, probeResponse{Status: "not alive", Reason: err.Error()})
		return
	}

	age := p.clock.Since(snapshot.Timestamp)
	if p.maxAge > 0 && age > p.maxAge {
		respond(w, http.StatusServiceUnavailable, probeResponse{
			Status: "not alive",
			Reason: "snapshot is stale",
			Age:    age.Round(time.Millisecond).String(),
		})
		return
	}
	respond(w, http.StatusOK, probeResponse{Status: "alive", Age: age.Round(time.Millisecond).String()})
}

func respond(w http.ResponseWriter, code int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
