// Package units provides shared constants, validation and conversion for
// temperature units, plus the GridEye raw-value scale.
package units

import "math"

// Unit constants
const (
	Celsius    = "c"
	Fahrenheit = "f"
	Kelvin     = "k"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Celsius, Fahrenheit, Kelvin}

// RawScale is the number of raw sensor counts per degree Celsius.
const RawScale = 256.0

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "c, f, k"
}

// ConvertTemperature converts a temperature in degrees Celsius to the target
// units. Unknown units return the value unchanged.
func ConvertTemperature(celsius float64, targetUnits string) float64 {
	switch targetUnits {
	case Fahrenheit:
		return celsius*9/5 + 32
	case Kelvin:
		return celsius + 273.15
	default:
		return celsius
	}
}

// Symbol returns the display suffix for a unit.
func Symbol(unit string) string {
	switch unit {
	case Fahrenheit:
		return "°F"
	case Kelvin:
		return "K"
	default:
		return "°C"
	}
}

// RawToCelsius converts a raw GridEye reading.
func RawToCelsius(raw float64) float64 {
	return raw / RawScale
}

// CelsiusToRaw is the inverse of RawToCelsius, rounded to the nearest count.
func CelsiusToRaw(celsius float64) int {
	return int(math.Round(celsius * RawScale))
}
