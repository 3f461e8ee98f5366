package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/journal"
)

// handleListJournal returns one page of journal entries, newest first.
//
// Query parameters: kind, device, since (RFC 3339), limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "event journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{Kind: q.Get("kind")}
	if id := q.Get("device"); id != "" {
		filter.DeviceID = device.NormalizeID(id)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal", "error", err)
		writeInternalError(w, "failed to list journal entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
