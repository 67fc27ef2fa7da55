package player

import (
	"math"
	"strconv"
	"strings"
)

// State is the playback state.
type State int

const (
	Idle State = iota
	Ready
	Playing
	Paused
	Ended
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	case Error:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Speeds are the supported playback rates, ascending.
var Speeds = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

const DefaultSpeed = 1.0

// ClampSpeed returns the supported rate nearest to v. Halfway values round
// down; NaN maps to DefaultSpeed.
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultSpeed
	}
	if math.IsInf(v, 1) {
		return Speeds[len(Speeds)-1]
	}
	best := Speeds[0]
	for _, s := range Speeds[1:] {
		if math.Abs(s-v) < math.Abs(best-v) {
			best = s
		}
	}
	return best
}

// ParseSpeed reads a rate such as "1.25" or "1.25x" and clamps it. Blank or
// unparseable input yields DefaultSpeed.
func ParseSpeed(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "x")
	if s == "" {
		return DefaultSpeed
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return DefaultSpeed
	}
	return ClampSpeed(v)
}
