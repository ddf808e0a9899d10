package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/compliance-web/internal/xerrors"
)

// Probe reports nil when healthy, otherwise the reason it is not.
type Probe interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	var err error
	if !ok {
		if reason == "" {
			reason = "unhealthy"
		}
		err = xerrors.New(reason)
	}
	return func(context.Context) error { return err }
}

// All fails with the first failing probe. Nil probes are ignored.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Readier reports why it cannot serve yet, e.g. the content manager before
// the first revision resolves.
type Readier interface{ ReadyErr() error }

func Ready(r Readier) CheckFunc {
	return func(context.Context) error {
		if r == nil {
			return xerrors.New("content source not configured")
		}
		return r.ReadyErr()
	}
}

// ShutdownGate fails readiness once Set, so the load balancer drains the
// instance before the listeners stop. The zero value is open.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
