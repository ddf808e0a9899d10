package opshttp

import (
	"net/http"

	"github.com/keithlinneman/compliance-web/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Mounts serves a JSON listing of live legacy mounts at /debug/mounts.
	Mounts http.Handler

	UseRecoverMW bool
	OnPanic      func() // Optional callback for when panics are recovered, e.g. to increment prometheus counters
}
