package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertTemperature(t *testing.T) {
	tests := []struct {
		name     string
		celsius  float64
		units    string
		expected float64
	}{
		{"freezing to f", 0, Fahrenheit, 32},
		{"boiling to f", 100, Fahrenheit, 212},
		{"body to f", 37, Fahrenheit, 98.6},
		{"zero to k", 0, Kelvin, 273.15},
		{"c unchanged", 24, Celsius, 24},
		{"unknown defaults to c", 24, "unknown", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ConvertTemperature(tt.celsius, tt.units), 0.001)
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{Celsius, true},
		{Fahrenheit, true},
		{Kelvin, true},
		{"C", false},
		{"", false},
		{"mph", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsValid(tt.unit), tt.unit)
	}
	assert.Equal(t, "c, f, k", GetValidUnitsString())
}

func TestRawConversion(t *testing.T) {
	assert.Equal(t, 24.0, RawToCelsius(6144))
	assert.Equal(t, 21.5, RawToCelsius(5504))
	assert.Equal(t, 6144, CelsiusToRaw(24))
	assert.Equal(t, 5504, CelsiusToRaw(RawToCelsius(5504)))
	assert.Equal(t, 6145, CelsiusToRaw(24.003))
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "°C", Symbol(Celsius))
	assert.Equal(t, "°F", Symbol(Fahrenheit))
	assert.Equal(t, "K", Symbol(Kelvin))
}
