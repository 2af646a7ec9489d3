// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/sustainable-computing-io/amdgpu-top/internal/service"
)

type profiler struct {
	api APIService
}

var (
	_ service.Service     = (*profiler)(nil)
	_ service.Initializer = (*profiler)(nil)
)

// NewPprof exposes the runtime profiles under /debug/pprof/
func NewPprof(api APIService) *profiler {
	return &profiler{api: api}
}

func (p *profiler) Name() string {
	return "pprof"
}

func (p *profiler) Init() error {
	return p.api.Register("/debug/pprof/", "pprof", "Profiling Data", pprofHandlers())
}

func pprofHandlers() http.Handler {
	mux := http.NewServeMux()

	// Index also serves the named profiles (heap, goroutine, block, ...)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return mux
}
