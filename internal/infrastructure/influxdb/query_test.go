package influxdb

import (
	"strings"
	"testing"
	"time"
)

func TestBuildReadingsQuery(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)

	tests := []struct {
		name    string
		q       ReadingQuery
		want    []string
		notWant []string
		wantErr bool
	}{
		{
			name: "all attributes until now",
			q:    ReadingQuery{DeviceID: "28.0000063B3E31", Start: start},
			want: []string{
				`from(bucket: "onewire")`,
				`range(start: 2026-10-17T11:00:00Z, stop: 2026-10-17T12:00:00Z)`,
				`r.device_id == "28.0000063B3E31"`,
				`r._measurement == "onewire_readings"`,
			},
			notWant: []string{"r.attribute", "aggregateWindow"},
		},
		{
			name: "one attribute averaged",
			q:    ReadingQuery{DeviceID: "26.A1B2C3D4E5F6", Attribute: "humidity", Start: start, Every: 5 * time.Minute},
			want: []string{`r.attribute == "humidity"`, "aggregateWindow(every: 300s, fn: mean"},
		},
		{
			name:    "sub-second window ignored",
			q:       ReadingQuery{DeviceID: "28.0000063B3E31", Start: start, Every: time.Millisecond},
			notWant: []string{"aggregateWindow"},
		},
		{
			name: "quotes escaped",
			q:    ReadingQuery{DeviceID: "28.X", Attribute: `a" or true`, Start: start},
			want: []string{`r.attribute == "a\" or true"`},
		},
		{name: "missing device", q: ReadingQuery{Start: start}, wantErr: true},
		{name: "missing start", q: ReadingQuery{DeviceID: "28.X"}, wantErr: true},
		{name: "inverted range", q: ReadingQuery{DeviceID: "28.X", Start: now, Stop: start}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildReadingsQuery("onewire", tt.q, now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("buildReadingsQuery() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildReadingsQuery() error = %v", err)
			}
			for _, s := range tt.want {
				if !strings.Contains(got, s) {
					t.Errorf("query missing %q:\n%s", s, got)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(got, s) {
					t.Errorf("query contains %q:\n%s", s, got)
				}
			}
		})
	}
}
