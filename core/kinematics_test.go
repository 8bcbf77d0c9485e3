package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/section-twin/model"
)

func TestStepSpeedAcceleratesTowardTarget(t *testing.T) {
	k := DefaultKinematics()
	got := k.StepSpeed(0, 20, 5)
	if got != 5 {
		t.Fatalf("expected 5 m/s after 5s at 1 m/s^2, got %v", got)
	}
	// Never overshoots the target.
	if got := k.StepSpeed(19.5, 20, 5); got != 20 {
		t.Fatalf("expected clamp at target, got %v", got)
	}
}

func TestStepSpeedBrakes(t *testing.T) {
	k := DefaultKinematics()
	got := k.StepSpeed(20, 10, 5)
	if got != 16 {
		t.Fatalf("expected 16 m/s after 5s at 0.8 m/s^2 braking, got %v", got)
	}
	// Braking stops at the target, and never below zero.
	if got := k.StepSpeed(10.2, 10, 5); got != 10 {
		t.Fatalf("expected clamp at target, got %v", got)
	}
	if got := k.StepSpeed(1, 0, 5); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestBrakingDistance(t *testing.T) {
	k := DefaultKinematics()
	if got := k.BrakingDistanceM(10, 10, 0); got != 0 {
		t.Fatalf("no braking needed, got %v", got)
	}
	// v^2 / (2*0.8) for a flat stop from 20 m/s.
	if got := k.BrakingDistanceM(20, 0, 0); got != 250 {
		t.Fatalf("expected 250m, got %v", got)
	}
	// A downgrade steep enough to defeat the service brake.
	if got := k.BrakingDistanceM(20, 0, -10); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf on brake-defeating grade, got %v", got)
	}
}

func TestTargetSpeedUsesLowerLimit(t *testing.T) {
	e := &model.Edge{MaxSpeedMPS: 30}
	slow := &model.Train{MaxSpeedMPS: 20}
	fast := &model.Train{MaxSpeedMPS: 40}
	unset := &model.Train{}

	if got := TargetSpeed(slow, e); got != 20 {
		t.Fatalf("expected train limit 20, got %v", got)
	}
	if got := TargetSpeed(fast, e); got != 30 {
		t.Fatalf("expected edge limit 30, got %v", got)
	}
	if got := TargetSpeed(unset, e); got != 30 {
		t.Fatalf("expected edge limit for unset train limit, got %v", got)
	}
	if got := TargetSpeed(slow, nil); got != 0 {
		t.Fatalf("expected 0 for nil edge, got %v", got)
	}
}
