package core

import (
	"math"

	"github.com/signalsfoundry/section-twin/model"
)

// Kinematics holds the train dynamics constants used by the tracker and
// by speed-adjust feasibility checks. All computation is closed form and
// deterministic.
type Kinematics struct {
	// MaxAccelMPS2 caps traction acceleration.
	MaxAccelMPS2 float64
	// ServiceDecelMPS2 is the baseline service braking rate.
	ServiceDecelMPS2 float64
	// GravityMPS2 converts gradients into an effective braking term.
	GravityMPS2 float64
}

// DefaultKinematics returns conservative constants for mixed traffic.
func DefaultKinematics() Kinematics {
	return Kinematics{
		MaxAccelMPS2:     1.0,
		ServiceDecelMPS2: 0.8,
		GravityMPS2:      9.81,
	}
}

// MaxAcceleration estimates achievable acceleration from power and
// weight, capped by the traction limit.
func (k Kinematics) MaxAcceleration(weightTons, powerKW float64) float64 {
	if weightTons <= 0 {
		return k.MaxAccelMPS2
	}
	forceN := (powerKW * 1000.0) / 10.0
	accel := forceN / (weightTons * 1000.0)
	return math.Min(accel, k.MaxAccelMPS2)
}

// BrakingDistanceM returns the distance needed to brake from one speed
// to another on the given grade. An adverse downgrade that defeats the
// service brake yields +Inf.
func (k Kinematics) BrakingDistanceM(fromMPS, toMPS, gradientPct float64) float64 {
	if toMPS >= fromMPS {
		return 0
	}
	decel := k.ServiceDecelMPS2 + k.GravityMPS2*(gradientPct/100.0)
	if decel <= 0 {
		return math.Inf(1)
	}
	return (fromMPS*fromMPS - toMPS*toMPS) / (2 * decel)
}

// StepSpeed moves the current speed toward target within one tick,
// bounded by traction and braking limits.
func (k Kinematics) StepSpeed(currentMPS, targetMPS, dtSeconds float64) float64 {
	if dtSeconds <= 0 {
		return currentMPS
	}
	if targetMPS > currentMPS {
		next := currentMPS + k.MaxAccelMPS2*dtSeconds
		return math.Min(next, targetMPS)
	}
	next := currentMPS - k.ServiceDecelMPS2*dtSeconds
	return math.Max(next, math.Max(targetMPS, 0))
}

// TargetSpeed picks the speed a train should be running at on an edge:
// the lower of the train's own limit and the edge limit.
func TargetSpeed(t *model.Train, e *model.Edge) float64 {
	if e == nil {
		return 0
	}
	limit := e.MaxSpeedMPS
	if t.MaxSpeedMPS > 0 && t.MaxSpeedMPS < limit {
		limit = t.MaxSpeedMPS
	}
	return limit
}
