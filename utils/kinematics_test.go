package utils

import (
	"errors"
	"math"
	"testing"
)

const (
	testRadius = 0.0775
	testTrack  = 0.3968
)

func almostEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestUniDiffRoundTrip(t *testing.T) {
	cases := [][2]float64{{0.2, 0}, {0, 1.0}, {0.3, -0.5}, {-0.1, 0.7}}
	for _, c := range cases {
		l, r := UniToDiff(c[0], c[1], testRadius, testTrack)
		v, w := DiffToUni(l, r, testRadius, testTrack)
		if !almostEqual(v, c[0], 1e-9) || !almostEqual(w, c[1], 1e-9) {
			t.Errorf("round trip (%v,%v) -> (%v,%v)", c[0], c[1], v, w)
		}
	}
}

func TestUniToDiffSpin(t *testing.T) {
	l, r := UniToDiff(0, 1, testRadius, testTrack)
	if !almostEqual(l, -r, 1e-12) || r <= 0 {
		t.Errorf("pure CCW rotation should spin wheels opposite, got l=%v r=%v", l, r)
	}
}

func TestNormalizeHeading(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi / 2, math.Pi / 2},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{TwoPi + 0.5, 0.5},
	}
	for _, tt := range tests {
		if got := NormalizeHeading(tt.in); !almostEqual(got, tt.want, 1e-9) {
			t.Errorf("NormalizeHeading(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestNormalizeHeadingDir(t *testing.T) {
	if got := NormalizeHeadingDir(0, CW); got != 0 {
		t.Errorf("expected 0 for (0, CW), got %v", got)
	}
	if got := NormalizeHeadingDir(-math.Pi/2, CW); !almostEqual(got, math.Pi/2, 1e-12) {
		t.Errorf("expected pi/2 for (-pi/2, CW), got %v", got)
	}
	if got := NormalizeHeadingDir(-math.Pi/2, CCW); !almostEqual(got, 3*math.Pi/2, 1e-12) {
		t.Errorf("expected 3pi/2 for (-pi/2, CCW), got %v", got)
	}

	for _, dir := range []RotationDir{CW, CCW} {
		for h := -math.Pi + 1e-3; h <= math.Pi; h += 0.01 {
			got := NormalizeHeadingDir(h, dir)
			if got < 0 || got >= TwoPi {
				t.Fatalf("%v: heading %v normalized to %v", dir, h, got)
			}
		}
	}
}

func TestCalcTriangularProfile(t *testing.T) {
	got, err := CalcTriangularProfile(5, 20, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{20, 50, 80, 50, 20}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-9) {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	for _, bad := range []struct {
		n      int
		lo, hi float64
	}{{4, 0, 1}, {1, 0, 1}, {5, 1, 1}, {5, 2, 1}} {
		if _, err := CalcTriangularProfile(bad.n, bad.lo, bad.hi); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("n=%d lo=%v hi=%v: expected ErrInvalidProfile, got %v", bad.n, bad.lo, bad.hi, err)
		}
	}
}

func TestEnsureAngularVelocity(t *testing.T) {
	maxWheel := 10.0
	v, w := EnsureAngularVelocity(1.0, 2.0, testRadius, testTrack, maxWheel)
	if !almostEqual(w, 2.0, 1e-9) {
		t.Errorf("angular velocity changed: %v", w)
	}
	if v >= 1.0 {
		t.Errorf("expected linear velocity reduced, got %v", v)
	}
	l, r := UniToDiff(v, w, testRadius, testTrack)
	if math.Max(l, r) > maxWheel+1e-9 {
		t.Errorf("wheel still exceeds max: l=%v r=%v", l, r)
	}

	v, w = EnsureAngularVelocity(-1.0, 2.0, testRadius, testTrack, maxWheel)
	l, r = UniToDiff(v, w, testRadius, testTrack)
	if math.Min(l, r) < -maxWheel-1e-9 || !almostEqual(w, 2.0, 1e-9) {
		t.Errorf("backward case not limited: v=%v w=%v l=%v r=%v", v, w, l, r)
	}

	if v, w := EnsureAngularVelocity(5, 0, testRadius, testTrack, maxWheel); v != 5 || w != 0 {
		t.Errorf("pure linear command must pass through, got (%v,%v)", v, w)
	}
}

func TestAccelLimiter(t *testing.T) {
	a := NewAccelLimiter(1.0, 0.1)
	got := a.Adjust(1.0, 0.05)
	if !almostEqual(got, 0.5, 1e-12) {
		t.Errorf("expected 0.5 after half the response time, got %v", got)
	}
	got = a.Adjust(1.0, 0.05)
	if !almostEqual(got, 1.0, 1e-12) {
		t.Errorf("expected 1.0 after the full response time, got %v", got)
	}
	got = a.Adjust(-1.0, 0.2)
	if !almostEqual(got, -1.0, 1e-12) {
		t.Errorf("expected -1.0, got %v", got)
	}
}

func TestByteCodecs(t *testing.T) {
	b := make([]byte, 4)
	PutFloat32(b, 0.5)
	if got := Float32(b); got != 0.5 {
		t.Errorf("float32: got %v", got)
	}
	PutInt32(b, -123456)
	if got := Int32(b); got != -123456 {
		t.Errorf("int32: got %v", got)
	}
	PutUint16(b, 0xFFFE)
	if b[0] != 0xFE || b[1] != 0xFF {
		t.Errorf("uint16 not little-endian: % x", b[:2])
	}
}
