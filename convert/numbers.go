package convert

import (
	"math"
)

func RoundFloat64(number float64, decimals int) float64 {
	return math.Round(number*math.Pow10(int(decimals))) / math.Pow10(int(decimals))
}

func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// InhgToHpa converts inches of mercury to hectopascal.
func InhgToHpa(inhg float64) float64 {
	return inhg * 33.8639
}

func MphToMs(mph float64) float64 {
	return mph * 0.44704
}

func KmhToMs(kmh float64) float64 {
	return kmh / 3.6
}
