package utils

import (
	"errors"
	"math"
)

const TwoPi = 2 * math.Pi

var ErrInvalidProfile = errors.New("invalid triangular profile")

type RotationDir int

const (
	CCW RotationDir = iota
	CW
)

func (d RotationDir) String() string {
	if d == CW {
		return "CW"
	}
	return "CCW"
}

// UniToDiff converts unicycle velocities (m/s, rad/s) to wheel angular
// velocities in rad/s.
func UniToDiff(linear, angular, wheelRadius, trackWidth float64) (left, right float64) {
	left = (2*linear - angular*trackWidth) / (2 * wheelRadius)
	right = (2*linear + angular*trackWidth) / (2 * wheelRadius)
	return left, right
}

// DiffToUni converts wheel angular velocities in rad/s to unicycle velocities.
func DiffToUni(left, right, wheelRadius, trackWidth float64) (linear, angular float64) {
	linear = wheelRadius * (right + left) / 2
	angular = wheelRadius * (right - left) / trackWidth
	return linear, angular
}

// NormalizeHeading wraps h into [-pi, pi].
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, TwoPi)
	if h > math.Pi {
		h -= TwoPi
	} else if h < -math.Pi {
		h += TwoPi
	}
	return h
}

// NormalizeHeadingDir returns the heading in [0, 2pi) measured in the
// direction of rotation.
func NormalizeHeadingDir(h float64, dir RotationDir) float64 {
	if dir == CW {
		h = -h
	}
	h = math.Mod(h, TwoPi)
	if h < 0 {
		h += TwoPi
	}
	if h >= TwoPi {
		h = 0
	}
	return h
}

// CalcTriangularProfile rises from lower to upper at the midpoint and falls back.
func CalcTriangularProfile(n int, lower, upper float64) ([]float64, error) {
	if n < 3 || n%2 == 0 || lower >= upper {
		return nil, ErrInvalidProfile
	}
	mid := n / 2
	delta := (upper - lower) / float64(mid)
	out := make([]float64, n)
	for i := 0; i <= mid; i++ {
		out[i] = lower + delta*float64(i)
	}
	for i := mid + 1; i < n; i++ {
		out[i] = out[n-1-i]
	}
	return out, nil
}

// EnsureAngularVelocity keeps the angular component of (linear, angular) when
// a wheel would exceed maxWheel rad/s, giving up linear speed instead.
func EnsureAngularVelocity(linear, angular, wheelRadius, trackWidth, maxWheel float64) (float64, float64) {
	if linear == 0 || angular == 0 {
		return linear, angular
	}
	left, right := UniToDiff(linear, angular, wheelRadius, trackWidth)
	hi := math.Max(left, right)
	lo := math.Min(left, right)
	switch {
	case hi > maxWheel:
		shift := hi - maxWheel
		left -= shift
		right -= shift
	case lo < -maxWheel:
		shift := lo + maxWheel
		left -= shift
		right -= shift
	default:
		return linear, angular
	}
	return DiffToUni(left, right, wheelRadius, trackWidth)
}

// AccelLimiter bounds how quickly a commanded velocity may change so that
// going from 0 to max takes responseTime seconds.
type AccelLimiter struct {
	max          float64
	responseTime float64
	current      float64
}

func NewAccelLimiter(max, responseTime float64) *AccelLimiter {
	if responseTime <= 0 {
		responseTime = 0.1
	}
	return &AccelLimiter{max: math.Abs(max), responseTime: responseTime}
}

// Adjust moves the limited value toward target over dt seconds.
func (a *AccelLimiter) Adjust(target, dt float64) float64 {
	step := a.max / a.responseTime * dt
	diff := target - a.current
	switch {
	case diff > step:
		a.current += step
	case diff < -step:
		a.current -= step
	default:
		a.current = target
	}
	return a.current
}

func (a *AccelLimiter) Value() float64 { return a.current }
func (a *AccelLimiter) Reset()         { a.current = 0 }

func Constrain[T ~int | ~int32 | ~uint16 | ~float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
