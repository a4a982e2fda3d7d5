package window

import (
	"errors"
	"testing"
	"time"

	"github.com/google/osv/fixfinder/timestamps"
)

func TestCalculateRange(t *testing.T) {
	tests := []struct {
		name        string
		disclosedAt string
		before      int
		after       int
		wantSince   string
		wantUntil   string
	}{
		{
			name:        "default six months",
			disclosedAt: "2020-02-04T17:15Z",
			before:      6,
			after:       6,
			wantSince:   "2019-08-04T17:15:00Z",
			wantUntil:   "2020-08-04T17:15:00Z",
		},
		{
			name:        "month end clamps backwards",
			disclosedAt: "2021-01-31",
			before:      1,
			after:       1,
			wantSince:   "2020-12-31T00:00:00Z",
			wantUntil:   "2021-02-28T00:00:00Z",
		},
		{
			name:        "leap day",
			disclosedAt: "2024-03-31 08:00:00",
			before:      1,
			after:       11,
			wantSince:   "2024-02-29T08:00:00Z",
			wantUntil:   "2025-02-28T08:00:00Z",
		},
		{
			name:        "zero offsets",
			disclosedAt: "2022-06-15T10:20:30Z",
			before:      0,
			after:       0,
			wantSince:   "2022-06-15T10:20:30Z",
			wantUntil:   "2022-06-15T10:20:30Z",
		},
		{
			name:        "crosses several years",
			disclosedAt: "2020-08-31T00:00Z",
			before:      30,
			after:       18,
			wantSince:   "2018-02-28T00:00:00Z",
			wantUntil:   "2022-02-28T00:00:00Z",
		},
		{
			name:        "fractional seconds are dropped from output",
			disclosedAt: "2020-02-04T17:15:09.750Z",
			before:      6,
			after:       6,
			wantSince:   "2019-08-04T17:15:09Z",
			wantUntil:   "2020-08-04T17:15:09Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			since, until, err := CalculateRange(tt.disclosedAt, tt.before, tt.after)
			if err != nil {
				t.Fatalf("CalculateRange() error: %v", err)
			}
			if since != tt.wantSince || until != tt.wantUntil {
				t.Errorf("CalculateRange(%q, %d, %d) = (%q, %q), want (%q, %q)",
					tt.disclosedAt, tt.before, tt.after, since, until, tt.wantSince, tt.wantUntil)
			}
		})
	}
}

func TestCalculateRangeErrors(t *testing.T) {
	if _, _, err := CalculateRange("last tuesday", 6, 6); !errors.Is(err, timestamps.ErrUnrecognizedFormat) {
		t.Errorf("CalculateRange(bad date) error = %v, want ErrUnrecognizedFormat", err)
	}
	if _, _, err := CalculateRange("2020-02-04", -1, 6); !errors.Is(err, ErrNegativeOffset) {
		t.Errorf("CalculateRange(negative) error = %v, want ErrNegativeOffset", err)
	}
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		in   time.Time
		n    int
		want time.Time
	}{
		{time.Date(2021, 1, 31, 12, 0, 0, 0, time.UTC), -1, time.Date(2020, 12, 31, 12, 0, 0, 0, time.UTC)},
		{time.Date(2021, 1, 31, 12, 0, 0, 0, time.UTC), 1, time.Date(2021, 2, 28, 12, 0, 0, 0, time.UTC)},
		{time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2020, 5, 31, 0, 0, 0, 0, time.UTC), -6, time.Date(2019, 11, 30, 0, 0, 0, 0, time.UTC)},
		{time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC), 12, time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2020, 7, 15, 1, 2, 3, 4, time.UTC), 0, time.Date(2020, 7, 15, 1, 2, 3, 4, time.UTC)},
	}
	for _, tt := range tests {
		if got := AddMonths(tt.in, tt.n); !got.Equal(tt.want) {
			t.Errorf("AddMonths(%v, %d) = %v, want %v", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestInRange(t *testing.T) {
	since, until := "2019-08-04T17:15:00Z", "2020-08-04T17:15:00Z"
	tests := []struct {
		commit string
		want   bool
	}{
		{"2019-08-04 17:15:00", true},
		{"2020-08-04 17:15:00+00", true},
		{"2020-08-04 17:15:01+00", false},
		{"2019-08-04 17:14:59", false},
		{"2020-01-01 00:00:00+02:00", true},
		{"2020-08-04 19:15:00+02", true},
		{"2020-08-04T17:15:00Z", true},
	}
	for _, tt := range tests {
		got, err := InRange(tt.commit, since, until)
		if err != nil {
			t.Errorf("InRange(%q) error: %v", tt.commit, err)
			continue
		}
		if got != tt.want {
			t.Errorf("InRange(%q, %q, %q) = %v, want %v", tt.commit, since, until, got, tt.want)
		}
	}

	if _, err := InRange("garbage", since, until); err == nil {
		t.Errorf("InRange(garbage) returned no error")
	}
}

func TestCalculator(t *testing.T) {
	c := DefaultCalculator()
	since, until, err := c.Range("2020-02-04T17:15Z")
	if err != nil {
		t.Fatalf("Range() error: %v", err)
	}
	if since != "2019-08-04T17:15:00Z" || until != "2020-08-04T17:15:00Z" {
		t.Errorf("Range() = (%q, %q)", since, until)
	}

	w, err := Calculator{MonthsBefore: 1, MonthsAfter: 2}.Window("2020-02-04")
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if !w.Contains(time.Date(2020, 4, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Window %v does not contain its upper bound", w)
	}
	if w.Contains(time.Date(2020, 1, 3, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("Window %v contains an instant before its lower bound", w)
	}
}

func TestNewCalculator(t *testing.T) {
	if _, err := NewCalculator(-1, 6); !errors.Is(err, ErrNegativeOffset) {
		t.Errorf("NewCalculator(-1, 6) error = %v, want ErrNegativeOffset", err)
	}
	c, err := NewCalculator(0, 0)
	if err != nil {
		t.Fatalf("NewCalculator(0, 0) error: %v", err)
	}
	since, until, err := c.Range("2021-05-06")
	if err != nil || since != until {
		t.Errorf("zero window Range() = (%q, %q, %v), want equal bounds", since, until, err)
	}
}
