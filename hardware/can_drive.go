// Package hardware talks to the drivetrain's motor controllers and sensors over CAN.
package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.einride.tech/can"

	"drivetrain-core/drive"
	"drivetrain-core/utils"
)

// Command modes understood by the motor controllers.
const (
	modeDuty     = 0
	modeVelocity = 1
	modePosition = 2
)

const txTimeout = 5 * time.Millisecond

// gyroZeroBand is how close to zero a GYRO_STATUS heading must be to count as
// the IMU confirming a reset.
const gyroZeroBand = 1.0

type wheelFrames struct {
	cmd, gains, limits, status string
}

func framesFor(w drive.Wheel) wheelFrames {
	return wheelFrames{
		cmd:    "DRIVE_CMD_" + w.String(),
		gains:  "DRIVE_GAINS_" + w.String(),
		limits: "DRIVE_LIMITS_" + w.String(),
		status: "DRIVE_STATUS_" + w.String(),
	}
}

type wheelState struct {
	frames  wheelFrames
	gains   drive.Gains
	profile drive.Profile

	position float64 // raw, before offset
	offset   float64
	velocity float64
	current  float64
	applied  float64
}

// CANDrive implements drive.Hardware on top of a CAN map. Feedback arrives on
// the receive goroutine through HandleFrame; everything else is called from
// the control loop.
type CANDrive struct {
	cmap *utils.CANMap
	tx   utils.CANWriter
	log  *utils.Logger

	mu            sync.Mutex
	wheels        [len(drive.Wheels)]*wheelState
	heading       float64
	headingOffset float64 // holds the old heading until the IMU confirms a reset
	gyroResetting bool
	ultrasonic    float64
	detector      *drive.CollisionDetector
	sent          uint64
	txErrors      uint64
}

// NewCANDrive checks that the map carries every frame the drivetrain needs.
func NewCANDrive(cmap *utils.CANMap, tx utils.CANWriter, collision drive.CollisionConfig, log *utils.Logger) (*CANDrive, error) {
	d := &CANDrive{
		cmap:     cmap,
		tx:       tx,
		log:      log.With("component", "can-drive"),
		detector: drive.NewCollisionDetector(collision),
	}
	required := []string{"IMU_CMD", "GYRO_STATUS", "ULTRASONIC_STATUS"}
	for _, w := range drive.Wheels {
		f := framesFor(w)
		d.wheels[w] = &wheelState{frames: f}
		required = append(required, f.cmd, f.gains, f.limits, f.status)
	}
	for _, name := range required {
		if _, err := cmap.FrameByName(name); err != nil {
			return nil, fmt.Errorf("can map: %w", err)
		}
	}
	return d, nil
}

func (d *CANDrive) send(name string, values map[string]float64) error {
	frame, err := d.cmap.EncodeFrame(name, values)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()
	if err := d.tx.WriteFrame(ctx, frame); err != nil {
		d.mu.Lock()
		d.txErrors++
		n := d.txErrors
		d.mu.Unlock()
		// Log the first failure and then every hundredth to keep a dead bus from flooding the log.
		if n == 1 || n%100 == 0 {
			d.log.Error("transmit %s failed (%d total): %v", name, n, err)
		}
		return err
	}
	d.mu.Lock()
	d.sent++
	d.mu.Unlock()
	d.log.Trace("TX %s id=0x%X data=% X", name, frame.ID, frame.Data[:frame.Length])
	return nil
}

// Stats returns frames sent and transmit failures.
func (d *CANDrive) Stats() (sent, failed uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent, d.txErrors
}

func (d *CANDrive) ConfigureLoop(w drive.Wheel, g drive.Gains, p drive.Profile) error {
	if err := g.Validate(); err != nil {
		return err
	}
	ws := d.wheels[w]
	if err := d.send(ws.frames.gains, map[string]float64{
		"kp": g.P, "ki": g.I, "kd": g.D, "kff": g.FF,
	}); err != nil {
		return fmt.Errorf("send gains: %w", err)
	}
	if err := d.sendLimits(ws, g, p); err != nil {
		return fmt.Errorf("send limits: %w", err)
	}
	ws.gains = g
	ws.profile = p
	return nil
}

func (d *CANDrive) sendLimits(ws *wheelState, g drive.Gains, p drive.Profile) error {
	return d.send(ws.frames.limits, map[string]float64{
		"out_min":     g.MinOutput,
		"out_max":     g.MaxOutput,
		"max_vel":     p.MaxVelocity,
		"max_accel":   p.MaxAccel,
		"allowed_err": p.AllowedError,
	})
}

func (d *CANDrive) command(w drive.Wheel, mode int, setpoint float64) {
	_ = d.send(d.wheels[w].frames.cmd, map[string]float64{
		"mode":     float64(mode),
		"setpoint": setpoint,
	})
}

func (d *CANDrive) SetOutput(w drive.Wheel, duty float64) {
	d.command(w, modeDuty, duty)
}

func (d *CANDrive) SetVelocity(w drive.Wheel, rpm float64) {
	d.command(w, modeVelocity, rpm)
}

// SetPosition sends the target in the controller's raw frame, undoing any
// software encoder reset. A changed profile is pushed first.
func (d *CANDrive) SetPosition(w drive.Wheel, rotations float64, p drive.Profile) {
	ws := d.wheels[w]
	if p != ws.profile {
		if err := d.sendLimits(ws, ws.gains, p); err == nil {
			ws.profile = p
		}
	}
	d.mu.Lock()
	raw := rotations + ws.offset
	d.mu.Unlock()
	d.command(w, modePosition, raw)
}

func (d *CANDrive) EncoderPosition(w drive.Wheel) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.wheels[w]
	return ws.position - ws.offset
}

func (d *CANDrive) EncoderVelocity(w drive.Wheel) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wheels[w].velocity
}

func (d *CANDrive) AppliedOutput(w drive.Wheel) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wheels[w].applied
}

// ResetEncoder zeroes the reported position by remembering the current raw count.
func (d *CANDrive) ResetEncoder(w drive.Wheel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.wheels[w]
	ws.offset = ws.position
}

func (d *CANDrive) GyroHeading() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heading - d.headingOffset
}

// CalibrateAndResetGyro asks the IMU to calibrate and zero. Until a near-zero
// heading comes back, the last reported heading is subtracted so readings
// already start from zero.
func (d *CANDrive) CalibrateAndResetGyro() {
	_ = d.send("IMU_CMD", map[string]float64{"calibrate": 1, "reset": 1})
	d.mu.Lock()
	d.headingOffset = d.heading
	d.gyroResetting = true
	d.mu.Unlock()
}

func (d *CANDrive) UltrasonicRaw() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ultrasonic
}

func (d *CANDrive) CollisionDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detector.Tripped()
}

func (d *CANDrive) ClearCollision() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Reset()
}

// HandleFrame decodes one feedback frame. Frames not in the map are ignored.
func (d *CANDrive) HandleFrame(f can.Frame) {
	fd, values, err := d.cmap.DecodeFrame(f)
	if err != nil {
		d.log.Trace("RX ignored id=0x%X: %v", f.ID, err)
		return
	}
	if fd.Direction != utils.DirRX {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch fd.Name {
	case "GYRO_STATUS":
		d.heading = values["heading"]
		if d.gyroResetting && math.Abs(d.heading) < gyroZeroBand {
			d.headingOffset = 0
			d.gyroResetting = false
		}
	case "ULTRASONIC_STATUS":
		d.ultrasonic = values["raw"]
	default:
		for _, w := range drive.Wheels {
			ws := d.wheels[w]
			if ws.frames.status != fd.Name {
				continue
			}
			ws.position = values["position"]
			ws.velocity = values["velocity"]
			ws.current = values["current"]
			ws.applied = values["applied"]
			// One collision sample per cycle, taken when the last wheel reports.
			if w == drive.RightBack {
				d.observe()
			}
		}
	}
}

func (d *CANDrive) observe() {
	var vel, amps [len(drive.Wheels)]float64
	for i, ws := range d.wheels {
		vel[i], amps[i] = ws.velocity, ws.current
	}
	if !d.detector.Tripped() && d.detector.Observe(vel, amps) {
		d.log.Warn("collision detected: velocity=%v current=%v", vel, amps)
	}
}

// CANMotor drives a single open-loop motor through a duty frame.
type CANMotor struct {
	drive *CANDrive
	frame string
}

// Motor returns an open-loop motor on the given frame, sharing the drive's bus.
func (d *CANDrive) Motor(frame string) (*CANMotor, error) {
	if _, err := d.cmap.FrameByName(frame); err != nil {
		return nil, err
	}
	return &CANMotor{drive: d, frame: frame}, nil
}

func (m *CANMotor) Set(duty float64) {
	_ = m.drive.send(m.frame, map[string]float64{"duty": duty})
}
