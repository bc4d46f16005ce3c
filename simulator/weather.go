package simulator

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Reading is one entry of a sensor payload.
type Reading struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Weather is a random walk over temperature and humidity with rain
// starting or stopping at each sample.
type Weather struct {
	RainProbability float64

	mu       sync.Mutex
	raining  bool
	temp     float64
	humidity float64
}

// NewWeather starts a mild, dry day.
func NewWeather(rainProbability float64) *Weather {
	return &Weather{RainProbability: rainProbability, temp: 18, humidity: 55}
}

// Sample advances the walk and returns the rain, temperature and humidity
// readings.
func (w *Weather) Sample() []Reading {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.raining = rand.Float64() < w.RainProbability
	w.temp = clamp(w.temp+rand.Float64()-0.5, -10, 40)
	target := 50.0
	if w.raining {
		target = 95
	}
	w.humidity = clamp(w.humidity+(target-w.humidity)*0.3+rand.Float64()*2-1, 0, 100)
	rain := 0.0
	if w.raining {
		rain = 1
	}
	return []Reading{
		{Type: "rain", Value: rain},
		{Type: "temperature", Value: round(w.temp), Unit: "C"},
		{Type: "humidity", Value: round(w.humidity), Unit: "%"},
	}
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func round(v float64) float64 { return math.Round(v*100) / 100 }
