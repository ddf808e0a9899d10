package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// implemented by xerrors values
type (
	hasPC    interface{ PC() uintptr }
	hasStack interface{ StackPCs() []uintptr }
)

// errorFields describes err for an error record: the error itself, the
// first meaningful type and root cause type, the distinct messages along the
// chain and optionally the source location each wrap was made at.
func errorFields(err error, withLinks bool, maxLinks int) []any {
	chain := unwrapChain(err)
	kv := []any{
		"err", err,
		"error_type", surfaceType(chain),
		"cause_type", fmt.Sprintf("%T", chain[len(chain)-1]),
	}
	if msgs := distinctMessages(err, chain); len(msgs) > 1 {
		kv = append(kv, "error_chain", msgs)
	}
	if withLinks {
		kv = append(kv, "error_links", links(chain, maxLinks))
	}
	return kv
}

// unwrapChain follows single-error Unwrap from err to its root.
func unwrapChain(err error) []error {
	var out []error
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e)
	}
	return out
}

// surfaceType skips the wrappers that only add context (xerrors, fmt %w)
// and names the first type that says what failed.
func surfaceType(chain []error) string {
	for _, e := range chain {
		t := reflect.TypeOf(e)
		base := t
		for base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		switch {
		case strings.Contains(base.PkgPath(), "/internal/xerrors"):
		case base.PkgPath() == "fmt" && base.Name() == "wrapError":
		default:
			return t.String()
		}
	}
	return fmt.Sprintf("%T", chain[0])
}

func distinctMessages(err error, chain []error) []string {
	var msgs []string
	add := func(e error) {
		if m := e.Error(); len(msgs) == 0 || msgs[len(msgs)-1] != m {
			msgs = append(msgs, m)
		}
	}
	for _, e := range chain {
		add(e)
	}
	// errors.Join branches are listed after the head
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e)
		}
	}
	return msgs
}

// links records where each located wrap in the chain happened. The head is
// always listed, located or not.
func links(chain []error, max int) []map[string]any {
	out := make([]map[string]any, 0, min(len(chain), max))
	for i, e := range chain {
		if i >= max {
			break
		}
		link := map[string]any{"msg": e.Error()}
		fr, ok := errorFrame(e)
		if ok {
			link["func"], link["file"], link["line"] = fr.Function, fr.File, fr.Line
		}
		if i == 0 || ok {
			out = append(out, link)
		}
	}
	return out
}

func errorFrame(e error) (runtime.Frame, bool) {
	switch v := e.(type) {
	case hasPC:
		if pc := v.PC(); pc != 0 {
			fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
			return fr, true
		}
	case hasStack:
		frames := runtime.CallersFrames(v.StackPCs())
		for {
			fr, more := frames.Next()
			if fr.Function != "" && !internalFrame(fr.Function) {
				return fr, true
			}
			if !more {
				break
			}
		}
	}
	return runtime.Frame{}, false
}
