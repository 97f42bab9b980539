package timeparse

import (
	"testing"
	"time"

	"github.com/logflow/ccm/pkg/errors"
)

func TestParse(t *testing.T) {
	plus2 := time.FixedZone("", 2*3600)

	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01T08:05:00Z", time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)},
		{"2024-03-01T08:05:00", time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)},
		{"2024-03-01 08:05:00", time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)},
		{"2024-03-01T08:05:00.123Z", time.Date(2024, 3, 1, 8, 5, 0, 123000000, time.UTC)},
		{"2024-03-01T08:05:00.123456789Z", time.Date(2024, 3, 1, 8, 5, 0, 123456789, time.UTC)},
		{"2024-03-01T08:05:00+02:00", time.Date(2024, 3, 1, 8, 5, 0, 0, plus2)},
		{"2024-03-01T08:05:00+0200", time.Date(2024, 3, 1, 8, 5, 0, 0, plus2)},
		{"2024-03-01T08:05Z", time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)},
		{"  2024-03-01T08:05:00Z ", time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"yesterday",
		"2024-13-01",
		"2024-02-30",
		"2024-03-01T25:00:00Z",
		"2024-03-01T08:05:00+2",
		"1709280000",
	}

	for _, in := range inputs {
		_, err := Parse(in)
		if !errors.IsCode(err, errors.CodeInvalidTimestamp) {
			t.Errorf("Parse(%q) error = %v, want invalid timestamp", in, err)
		}
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 5, 0, 42, time.UTC)
	got, err := Parse(Format(ts))
	if err != nil {
		t.Fatalf("Parse(Format()) error = %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
}
