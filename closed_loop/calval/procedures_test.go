package calval

import (
	"errors"
	"math"
	"testing"

	"diffdrive-core/closed_loop/calstore"
)

func leftForward() Selection {
	return Selection{
		Wheels:     []calstore.Wheel{calstore.Left},
		Directions: []calstore.Direction{calstore.Forward},
	}
}

func TestSelectionLegOrder(t *testing.T) {
	var got []string
	for _, l := range AllLegs().legs() {
		got = append(got, l.String())
	}
	want := []string{"left-forward", "right-forward", "left-backward", "right-backward"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("leg %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSignedProfile(t *testing.T) {
	p, err := signedProfile(5, 0.2, 0.8, -1000)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	want := []float64{-200, -500, -800, -500, -200}
	for i := range want {
		if !almostEqual(p[i], want[i], 1e-9) {
			t.Errorf("point %d: expected %v, got %v", i, want[i], p[i])
		}
	}
	if _, err := signedProfile(4, 0.2, 0.8, 1000); err == nil {
		t.Error("expected error for even point count")
	}
}

func TestMotorCalibrationWritesTables(t *testing.T) {
	r := newRig(t, false)
	cfg := DefaultMotorConfig()
	cfg.Runs = 1
	p := NewMotorProcedure(r.env, cfg)
	if err := r.run(t, p, Calibrate); err != nil {
		t.Fatalf("motor calibration: %v", err)
	}
	if !r.store.IsSet(calstore.StatusMotor) {
		t.Fatal("expected motor status set")
	}
	for _, l := range AllLegs().legs() {
		tbl, err := r.store.Table(l.wheel, l.dir)
		if err != nil {
			t.Fatalf("%s table: %v", l, err)
		}
		peak := tbl.MaxCps()
		if l.dir == calstore.Backward {
			peak = -tbl.MinCps()
		}
		if peak < 2000 || peak > 3100 {
			t.Errorf("%s: expected peak speed between 2000 and 3100 cps, got %.1f", l, peak)
		}
	}
	if _, ok := p.Report().Values["right-backward_min_cps"]; !ok {
		t.Error("expected per-leg values in the report")
	}
}

func TestMotorPartialCalibrationLeavesStatusClear(t *testing.T) {
	r := newRig(t, false)
	cfg := DefaultMotorConfig()
	cfg.Runs = 1
	cfg.Legs = leftForward()
	if err := r.run(t, NewMotorProcedure(r.env, cfg), Calibrate); err != nil {
		t.Fatalf("motor calibration: %v", err)
	}
	if r.store.IsSet(calstore.StatusMotor) {
		t.Error("expected motor status clear with three tables missing")
	}
	if _, err := r.store.Table(calstore.Left, calstore.Forward); err != nil {
		t.Errorf("expected left forward table, got %v", err)
	}
}

func TestMotorValidation(t *testing.T) {
	r := newRig(t, true)
	cfg := DefaultMotorConfig()
	cfg.Legs = leftForward()
	p := NewMotorProcedure(r.env, cfg)
	if err := r.run(t, p, Validate); err != nil {
		t.Fatalf("motor validation: %v", err)
	}
	rep := p.Report()
	if len(rep.Samples) != cfg.Points {
		t.Fatalf("expected %d samples, got %d", cfg.Points, len(rep.Samples))
	}
	if !almostEqual(rep.Samples[5].Target, 2400, 1e-6) {
		t.Errorf("expected peak target 2400, got %v", rep.Samples[5].Target)
	}
	for _, s := range rep.Samples {
		if math.Abs(s.PercentDiff()) > 5 {
			t.Errorf("%s: target %.1f measured %.1f", s.Label, s.Target, s.Measured)
		}
	}
	if rep.Summary == nil || rep.Summary.Count != cfg.Points {
		t.Errorf("expected summary over %d samples, got %+v", cfg.Points, rep.Summary)
	}
	if r.drive.Commander.Overridden() {
		t.Error("expected override released after validation")
	}
}

func TestMotorValidationNeedsCalibration(t *testing.T) {
	r := newRig(t, false)
	err := r.run(t, NewMotorProcedure(r.env, DefaultMotorConfig()), Validate)
	if !errors.Is(err, ErrFailed) {
		t.Errorf("expected ErrFailed, got %v", err)
	}
}

func TestPIDCalibrationPersistsGains(t *testing.T) {
	r := newRig(t, true)
	cfg := DefaultPIDConfig()
	cfg.Legs = leftForward()
	cfg.Twiddle.MaxRuns = 6
	p := NewPIDProcedure(r.env, cfg)
	if err := r.run(t, p, Calibrate); err != nil {
		t.Fatalf("pid calibration: %v", err)
	}
	if !r.store.IsSet(calstore.StatusPID) {
		t.Fatal("expected pid status set")
	}
	stored, ok := r.store.Gains(calstore.GainsLeft)
	if !ok {
		t.Fatal("expected stored left gains")
	}
	vals := p.Report().Values
	if !almostEqual(stored.Kp, vals["left_kp"], 1e-5) || !almostEqual(stored.Ki, vals["left_ki"], 1e-5) {
		t.Errorf("expected stored gains to match report, got %+v vs %v", stored, vals)
	}
	if stored.Kp+stored.Ki+stored.Kd == 0 {
		t.Error("expected non-zero gains")
	}
	if vals["left_cost"] >= cfg.StepCps {
		t.Errorf("expected step cost below %v, got %v", cfg.StepCps, vals["left_cost"])
	}
	loaded := r.drive.PID(calstore.Left).Gains()
	if !almostEqual(loaded.Kp, stored.Kp, 1e-9) || !almostEqual(loaded.Ki, stored.Ki, 1e-9) {
		t.Errorf("expected drive to load stored gains, got %+v", loaded)
	}
}

func TestPIDValidation(t *testing.T) {
	r := newRig(t, true)
	cfg := DefaultPIDConfig()
	cfg.Legs = leftForward()
	p := NewPIDProcedure(r.env, cfg)
	if err := r.run(t, p, Validate); err != nil {
		t.Fatalf("pid validation: %v", err)
	}
	rep := p.Report()
	if len(rep.Samples) != cfg.Points {
		t.Fatalf("expected %d samples, got %d", cfg.Points, len(rep.Samples))
	}
	for _, s := range rep.Samples {
		if math.Abs(s.PercentDiff()) > 5 {
			t.Errorf("%s: target %.1f measured %.1f", s.Label, s.Target, s.Measured)
		}
	}
}

func TestLinearValidation(t *testing.T) {
	r := newRig(t, true)
	p := NewLinearProcedure(r.env, DefaultLinearConfig())
	if err := r.run(t, p, Validate); err != nil {
		t.Fatalf("linear validation: %v", err)
	}
	v := p.Report().Values
	if v["timed_out"] != 0 {
		t.Fatalf("expected to reach the distance, got %v", v)
	}
	if v["distance"] < 1.0 || v["distance"] > 1.05 {
		t.Errorf("expected distance just over 1 m, got %v", v["distance"])
	}
	if math.Abs(v["heading"]) > 0.05 {
		t.Errorf("expected straight travel, got heading %v", v["heading"])
	}
}

func TestLinearCalibrationPersistsBias(t *testing.T) {
	r := newRig(t, true)
	p := NewLinearProcedure(r.env, DefaultLinearConfig())
	p.SetMeasured(1.25)
	if err := r.run(t, p, Calibrate); err != nil {
		t.Fatalf("linear calibration: %v", err)
	}
	if !r.store.IsSet(calstore.StatusLinear) {
		t.Error("expected linear status set")
	}
	if b := r.store.LinearBias(); !almostEqual(b, 0.8, 1e-6) {
		t.Errorf("expected bias 0.8, got %v", b)
	}
	if b := r.drive.Left.Bias(); !almostEqual(b, 0.8, 1e-6) {
		t.Errorf("expected encoders to reload bias 0.8, got %v", b)
	}
}

func TestLinearCalibrationNeedsMeasurement(t *testing.T) {
	r := newRig(t, true)
	err := r.run(t, NewLinearProcedure(r.env, DefaultLinearConfig()), Calibrate)
	if !errors.Is(err, ErrFailed) {
		t.Errorf("expected ErrFailed, got %v", err)
	}
	if r.store.IsSet(calstore.StatusLinear) {
		t.Error("expected linear status clear")
	}
}

func TestAngularCalibrationPersistsBias(t *testing.T) {
	r := newRig(t, true)
	p := NewAngularProcedure(r.env, DefaultAngularConfig())
	p.SetMeasured(720)
	if err := r.run(t, p, Calibrate); err != nil {
		t.Fatalf("angular calibration: %v", err)
	}
	v := p.Report().Values
	if v["timed_out"] != 0 {
		t.Fatalf("expected a full turn before the timeout, got %v", v)
	}
	if v["turned_deg"] < 360 || v["turned_deg"] > 370 {
		t.Errorf("expected one revolution, got %v deg", v["turned_deg"])
	}
	if b := r.store.AngularBias(); !almostEqual(b, 0.5, 1e-6) {
		t.Errorf("expected bias 0.5, got %v", b)
	}
	if !r.store.IsSet(calstore.StatusAngular) {
		t.Error("expected angular status set")
	}
}

func TestAngularValidation(t *testing.T) {
	for _, cw := range []bool{true, false} {
		r := newRig(t, true)
		cfg := DefaultAngularConfig()
		cfg.Clockwise = cw
		p := NewAngularProcedure(r.env, cfg)
		if err := r.run(t, p, Validate); err != nil {
			t.Fatalf("angular validation: %v", err)
		}
		v := p.Report().Values
		if v["timed_out"] != 0 {
			t.Errorf("cw=%v: expected to return to zero before the timeout", cw)
		}
		if math.Abs(v["heading"]) > 0.06 {
			t.Errorf("cw=%v: expected heading near zero, got %v", cw, v["heading"])
		}
		if v["elapsed_ms"] < 11000 {
			t.Errorf("cw=%v: expected a full revolution, finished after %v ms", cw, v["elapsed_ms"])
		}
	}
}
