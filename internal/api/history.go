package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/infrastructure/influxdb"
)

// defaultHistoryWindow is how far back a history query reaches without since.
const defaultHistoryWindow = 24 * time.Hour

// HistoryResponse is the body of GET /devices/{id}/history.
type HistoryResponse struct {
	Device    string             `json:"device"`
	Attribute string             `json:"attribute,omitempty"`
	Since     time.Time          `json:"since"`
	Until     time.Time          `json:"until"`
	Readings  []influxdb.Reading `json:"readings"`
}

// handleDeviceHistory returns stored numeric readings of a device.
//
// Query parameters: attribute, since and until (RFC 3339, default the last
// 24 hours), every (Go duration, averages into windows).
//
// The device does not have to be on a bus right now; history outlives it.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "reading history is disabled")
		return
	}

	q := r.URL.Query()
	until := time.Now().UTC()
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "until must be an RFC 3339 timestamp")
			return
		}
		until = t
	}
	since := until.Add(-defaultHistoryWindow)
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	if !since.Before(until) {
		writeBadRequest(w, "since must be before until")
		return
	}

	var every time.Duration
	if raw := q.Get("every"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < time.Second {
			writeBadRequest(w, "every must be a duration of at least 1s")
			return
		}
		every = d
	}

	id := device.NormalizeID(chi.URLParam(r, "id"))
	readings, err := s.history.QueryReadings(r.Context(), influxdb.ReadingQuery{
		DeviceID:  id,
		Attribute: q.Get("attribute"),
		Start:     since,
		Stop:      until,
		Every:     every,
	})
	if err != nil {
		s.logger.Error("querying reading history", "device", id, "error", err)
		writeInternalError(w, "failed to query reading history")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Device:    id,
		Attribute: q.Get("attribute"),
		Since:     since,
		Until:     until,
		Readings:  readings,
	})
}
