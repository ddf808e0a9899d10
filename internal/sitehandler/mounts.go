package sitehandler

import (
	"encoding/json"
	"net/http"
)

type mountInfo struct {
	Slug         string `json:"slug"`
	SessionID    uint64 `json:"session_id,omitempty"`
	State        string `json:"state"`
	RevealReason string `json:"reveal_reason,omitempty"`
}

// MountsHandler lists the live legacy mounts as JSON. It is meant for the
// admin listener.
func (h *Handler) MountsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		names := h.opts.Mounts.Names()
		out := make([]mountInfo, 0, len(names))
		for _, name := range names {
			m, ok := h.opts.Mounts.Lookup(name)
			if !ok {
				continue
			}
			info := mountInfo{Slug: name, State: "empty"}
			if s := m.Live(); s != nil {
				info.SessionID = s.ID()
				info.State = s.State().String()
				info.RevealReason = string(s.RevealReason())
			}
			out = append(out, info)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	})
}
