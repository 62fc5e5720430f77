package units

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTimezoneValid(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		expected bool
	}{
		{"valid UTC", "UTC", true},
		{"valid Europe/London", "Europe/London", true},
		{"invalid", "Invalid/Timezone", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTimezoneValid(tt.timezone))
		})
	}
}

func TestConvertTime(t *testing.T) {
	utcTime := time.Date(2025, 9, 13, 12, 0, 0, 0, time.UTC)

	out, err := ConvertTime(utcTime, "UTC")
	require.NoError(t, err)
	assert.True(t, out.Equal(utcTime))

	out, err = ConvertTime(utcTime, "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, 21, out.Hour())

	_, err = ConvertTime(utcTime, "Nowhere/Atlantis")
	assert.Error(t, err)
}
