package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNow(t *testing.T) {
	utilsTime := Now()
	standardTime := time.Now().UTC()

	assert.WithinDuration(t, standardTime, utilsTime, 10*time.Millisecond)
	assert.Equal(t, time.UTC, utilsTime.Location())
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Time
		wantErr  bool
	}{
		{name: "default epoch", value: "2019-01-01 00:00:00", expected: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "fractional seconds", value: "2024-03-05 10:11:12.123456", expected: time.Date(2024, 3, 5, 10, 11, 12, 123456000, time.UTC)},
		{name: "rfc3339 with offset", value: "2024-03-05T12:11:12+02:00", expected: time.Date(2024, 3, 5, 10, 11, 12, 0, time.UTC)},
		{name: "garbage", value: "yesterday", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTimestamp(tc.value)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "expected %s, got %s", tc.expected, got)
		})
	}
}

func TestFormatTimestamp_RoundTrip(t *testing.T) {
	original := time.Date(2023, 7, 14, 8, 30, 0, 250000000, time.UTC)
	parsed, err := ParseTimestamp(FormatTimestamp(original))
	require.NoError(t, err)
	assert.True(t, original.Equal(parsed))
}
