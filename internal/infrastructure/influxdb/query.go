package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reading is one stored attribute value, or one window mean when the query
// aggregates.
type Reading struct {
	Time      time.Time `json:"time"`
	Attribute string    `json:"attribute"`
	Value     float64   `json:"value"`
}

// ReadingQuery selects readings of one device.
type ReadingQuery struct {
	DeviceID string

	// Attribute narrows the query to one attribute. Empty means all.
	Attribute string

	Start time.Time
	Stop  time.Time // zero means now

	// Every, when at least one second, averages readings into windows of
	// that size.
	Every time.Duration
}

// QueryReadings returns stored readings in time order.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - q: Device, optional attribute, time range and window
//
// Returns:
//   - []Reading: Matching readings, empty if none
//   - error: ErrNotConnected, a validation error, or the query error
func (c *Client) QueryReadings(ctx context.Context, q ReadingQuery) ([]Reading, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	flux, err := buildReadingsQuery(c.bucket, q, time.Now())
	if err != nil {
		return nil, err
	}

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer result.Close() //nolint:errcheck // read-only stream

	readings := []Reading{}
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		attr, _ := rec.ValueByKey("attribute").(string)
		readings = append(readings, Reading{Time: rec.Time(), Attribute: attr, Value: v})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reading query result: %w", err)
	}
	return readings, nil
}

// buildReadingsQuery renders q as Flux. now stands in for a zero Stop.
func buildReadingsQuery(bucket string, q ReadingQuery, now time.Time) (string, error) {
	if strings.TrimSpace(q.DeviceID) == "" {
		return "", fmt.Errorf("device id is required")
	}
	stop := q.Stop
	if stop.IsZero() {
		stop = now
	}
	if q.Start.IsZero() || !q.Start.Before(stop) {
		return "", fmt.Errorf("start must be before stop")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", strconv.Quote(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		q.Start.UTC().Format(time.RFC3339Nano), stop.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s and r._field == \"value\" and r.device_id == %s)\n",
		strconv.Quote(ReadingMeasurement), strconv.Quote(q.DeviceID))
	if q.Attribute != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.attribute == %s)\n", strconv.Quote(q.Attribute))
	}
	if q.Every >= time.Second {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %ds, fn: mean, createEmpty: false)\n", int64(q.Every/time.Second))
	}
	b.WriteString("  |> sort(columns: [\"_time\"])\n")
	return b.String(), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
