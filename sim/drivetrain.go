// Package sim provides an in-process drivetrain that implements drive.Hardware.
//
// Each wheel runs its own closed loop the way a smart motor controller would:
// velocity mode tracks the setpoint with feed-forward plus PID, position mode
// follows a trapezoidal plan with the same velocity loop. Motor response is a
// first-order lag toward duty*FreeSpeed.
package sim

import (
	"math"
	"time"

	"github.com/felixge/pidctrl"

	"drivetrain-core/drive"
)

// Config describes the simulated mechanism.
type Config struct {
	FreeSpeed        float64       // RPM at full duty
	TimeConstant     time.Duration // motor lag
	PositionGain     float64       // 1/s, corrects position error while following a plan
	DegreesPerRot    float64       // heading change per rotation of both pairs turning in place
	InchesPerRot     float64       // forward travel per rotation
	AmpsPerDuty      float64       // current drawn per unit of duty in excess of back-EMF
	UltrasonicScale  float64       // inches per raw count
	ObstacleDistance float64       // inches to the obstacle in front at start
	Collision        drive.CollisionConfig
}

func DefaultConfig() Config {
	return Config{
		FreeSpeed:        5700,
		TimeConstant:     50 * time.Millisecond,
		PositionGain:     4,
		DegreesPerRot:    360 / 18.0,
		InchesPerRot:     6 * math.Pi / 8.41,
		AmpsPerDuty:      40,
		UltrasonicScale:  0.125,
		ObstacleDistance: 120,
	}
}

type wheelMode int

const (
	modeDuty wheelMode = iota
	modeVelocity
	modePosition
)

type wheel struct {
	gains drive.Gains
	loop  *pidctrl.PIDController

	mode     wheelMode
	duty     float64
	setpoint float64
	plan     *drive.Trapezoid
	elapsed  float64

	position float64
	velocity float64
	applied  float64
	current  float64
}

// Drivetrain is a simulated four-wheel drivetrain. It is not safe for
// concurrent use; drive it from the control loop goroutine only.
type Drivetrain struct {
	cfg      Config
	wheels   [len(drive.Wheels)]*wheel
	heading  float64
	distance float64
	detector *drive.CollisionDetector

	Calibrations int
}

func NewDrivetrain(cfg Config) *Drivetrain {
	d := &Drivetrain{
		cfg:      cfg,
		distance: cfg.ObstacleDistance,
		detector: drive.NewCollisionDetector(cfg.Collision),
	}
	for i := range d.wheels {
		d.wheels[i] = &wheel{gains: drive.Gains{MinOutput: -1, MaxOutput: 1}}
		d.wheels[i].loop = newLoop(d.wheels[i].gains)
	}
	return d
}

func newLoop(g drive.Gains) *pidctrl.PIDController {
	return pidctrl.NewPIDController(g.P, g.I, g.D).SetOutputLimits(g.MinOutput, g.MaxOutput)
}

func (d *Drivetrain) ConfigureLoop(w drive.Wheel, g drive.Gains, _ drive.Profile) error {
	if err := g.Validate(); err != nil {
		return err
	}
	wh := d.wheels[w]
	wh.gains = g
	wh.loop = newLoop(g)
	return nil
}

func (d *Drivetrain) SetOutput(w drive.Wheel, duty float64) {
	wh := d.wheels[w]
	wh.mode = modeDuty
	wh.duty = duty
	wh.plan = nil
}

func (d *Drivetrain) SetVelocity(w drive.Wheel, rpm float64) {
	wh := d.wheels[w]
	if wh.mode != modeVelocity {
		wh.loop = newLoop(wh.gains)
	}
	wh.mode = modeVelocity
	wh.setpoint = rpm
	wh.plan = nil
}

func (d *Drivetrain) SetPosition(w drive.Wheel, rotations float64, p drive.Profile) {
	wh := d.wheels[w]
	wh.loop = newLoop(wh.gains)
	wh.mode = modePosition
	wh.setpoint = rotations
	wh.plan = drive.NewTrapezoid(p, wh.position, rotations)
	wh.elapsed = 0
}

func (d *Drivetrain) EncoderPosition(w drive.Wheel) float64 { return d.wheels[w].position }
func (d *Drivetrain) EncoderVelocity(w drive.Wheel) float64 { return d.wheels[w].velocity }
func (d *Drivetrain) AppliedOutput(w drive.Wheel) float64   { return d.wheels[w].applied }
func (d *Drivetrain) Current(w drive.Wheel) float64         { return d.wheels[w].current }

// ResetEncoder zeroes a wheel's position. An active position plan is shifted
// with it so the wheel keeps holding the same physical spot.
func (d *Drivetrain) ResetEncoder(w drive.Wheel) {
	wh := d.wheels[w]
	if wh.plan != nil {
		wh.plan.Shift(-wh.position)
		wh.setpoint -= wh.position
	}
	wh.position = 0
}

func (d *Drivetrain) GyroHeading() float64 { return d.heading }

func (d *Drivetrain) CalibrateAndResetGyro() {
	d.Calibrations++
	d.heading = 0
}

// SetHeading overrides the gyro reading.
func (d *Drivetrain) SetHeading(deg float64) { d.heading = deg }

func (d *Drivetrain) UltrasonicRaw() float64 {
	if d.cfg.UltrasonicScale == 0 {
		return 0
	}
	return math.Max(d.distance, 0) / d.cfg.UltrasonicScale
}

// SetObstacleDistance places the obstacle seen by the ultrasonic sensor.
func (d *Drivetrain) SetObstacleDistance(inches float64) { d.distance = inches }

func (d *Drivetrain) CollisionDetected() bool { return d.detector.Tripped() }
func (d *Drivetrain) ClearCollision()         { d.detector.Reset() }

// Bump latches the collision flag as if the robot hit something.
func (d *Drivetrain) Bump() { d.detector.Trip() }

// Step advances the simulation by dt.
func (d *Drivetrain) Step(dt time.Duration) {
	secs := dt.Seconds()
	if secs <= 0 {
		return
	}
	lag := 1.0
	if tc := d.cfg.TimeConstant.Seconds(); tc > 0 {
		lag = math.Min(1, secs/tc)
	}

	var vel, amps [len(drive.Wheels)]float64
	for i, wh := range d.wheels {
		duty := d.duty(wh, dt)
		wh.applied = duty

		target := duty * d.cfg.FreeSpeed
		wh.velocity += (target - wh.velocity) * lag
		wh.position += wh.velocity / 60 * secs

		if d.cfg.FreeSpeed > 0 {
			wh.current = math.Abs(duty-wh.velocity/d.cfg.FreeSpeed) * d.cfg.AmpsPerDuty
		}
		vel[i], amps[i] = wh.velocity, wh.current
	}
	d.detector.Observe(vel, amps)

	left := (d.wheels[drive.LeftFront].velocity + d.wheels[drive.LeftBack].velocity) / 2
	right := (d.wheels[drive.RightFront].velocity + d.wheels[drive.RightBack].velocity) / 2
	// Mirrored pairs: equal signs spin in place, opposite signs translate.
	d.heading += (left + right) / 2 / 60 * secs * d.cfg.DegreesPerRot
	d.distance -= (left - right) / 2 / 60 * secs * d.cfg.InchesPerRot
}

func (d *Drivetrain) duty(wh *wheel, dt time.Duration) float64 {
	g := wh.gains
	switch wh.mode {
	case modeVelocity:
		wh.loop.Set(wh.setpoint)
		out := g.FF*wh.setpoint + wh.loop.UpdateDuration(wh.velocity, dt)
		return clamp(out, g.MinOutput, g.MaxOutput)
	case modePosition:
		wh.elapsed += dt.Seconds()
		pos, rpm := wh.plan.Sample(wh.elapsed)
		rpm += d.cfg.PositionGain * (pos - wh.position) * 60
		wh.loop.Set(rpm)
		out := g.FF*rpm + wh.loop.UpdateDuration(wh.velocity, dt)
		return clamp(out, g.MinOutput, g.MaxOutput)
	default:
		return clamp(wh.duty, -1, 1)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
