package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/owfs-core/internal/infrastructure/influxdb"
)

type fakeHistory struct {
	queries []influxdb.ReadingQuery
	err     error
}

func (h *fakeHistory) QueryReadings(_ context.Context, q influxdb.ReadingQuery) ([]influxdb.Reading, error) {
	h.queries = append(h.queries, q)
	if h.err != nil {
		return nil, h.err
	}
	return []influxdb.Reading{{Time: q.Start.Add(time.Minute), Attribute: "temperature", Value: 19.25}}, nil
}

func TestDeviceHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, nil)
		w, _ := f.do(t, http.MethodGet, "/api/v1/devices/28.0000063B3E31/history", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("query", func(t *testing.T) {
		f := newFixture(t, nil)
		h := &fakeHistory{}
		f.srv.history = h

		w, resp := f.do(t, http.MethodGet, "/api/v1/devices/280000063b3e31/history?attribute=temperature&since=2026-10-17T00:00:00Z&until=2026-10-17T06:00:00Z&every=15m", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d %v", w.Code, resp)
		}
		if resp["device"] != "28.0000063B3E31" || len(resp["readings"].([]any)) != 1 {
			t.Errorf("response = %v", resp)
		}
		want := influxdb.ReadingQuery{
			DeviceID:  "28.0000063B3E31",
			Attribute: "temperature",
			Start:     time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
			Stop:      time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC),
			Every:     15 * time.Minute,
		}
		if len(h.queries) != 1 || h.queries[0] != want {
			t.Errorf("query = %+v, want %+v", h.queries, want)
		}
	})

	t.Run("default window", func(t *testing.T) {
		f := newFixture(t, nil)
		h := &fakeHistory{}
		f.srv.history = h

		if w, _ := f.do(t, http.MethodGet, "/api/v1/devices/10.67C6697351FF/history", ""); w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		q := h.queries[0]
		if q.Stop.Sub(q.Start) != defaultHistoryWindow || q.Attribute != "" || q.Every != 0 {
			t.Errorf("query = %+v", q)
		}
	})

	t.Run("bad query", func(t *testing.T) {
		f := newFixture(t, nil)
		f.srv.history = &fakeHistory{}
		for _, q := range []string{
			"since=yesterday",
			"until=soon",
			"since=2026-10-17T06:00:00Z&until=2026-10-17T00:00:00Z",
			"every=fortnight",
			"every=10ms",
		} {
			w, _ := f.do(t, http.MethodGet, "/api/v1/devices/28.0000063B3E31/history?"+q, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d", q, w.Code)
			}
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.srv.history = &fakeHistory{err: errors.New("influx down")}
		w, _ := f.do(t, http.MethodGet, "/api/v1/devices/28.0000063B3E31/history", "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d", w.Code)
		}
	})
}
