// Package health holds the liveness and readiness probes served on both
// listeners.
//
// Readiness in this service means a content revision has been resolved and
// the process is not draining: main combines [ShutdownGate] and [Ready] with
// [All]. Probes run at request time, so a revision that resolves after start
// flips /-/ready without a restart.
package health
