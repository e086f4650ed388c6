// Package input reads the driver and operator joysticks and shapes their axes.
package input

import (
	"math"
	"sync"
)

// Device is a polled input device. Buttons are numbered from 1.
type Device interface {
	Axis(i int) float64
	Button(n int) bool
}

// PadState is one joystick reading as sent by the operator console.
type PadState struct {
	Axes    []float64 `json:"axes"`
	Buttons []bool    `json:"buttons"`
}

// Pad is a Device fed from outside the control loop. It is safe for
// concurrent use: the console connection writes, the control loop reads.
type Pad struct {
	mu    sync.RWMutex
	state PadState
}

func NewPad() *Pad { return &Pad{} }

// Update replaces the stored reading. Axes are clamped to [-1, 1].
func (p *Pad) Update(s PadState) {
	axes := make([]float64, len(s.Axes))
	for i, a := range s.Axes {
		if math.IsNaN(a) {
			a = 0
		}
		axes[i] = math.Max(-1, math.Min(1, a))
	}
	buttons := append([]bool(nil), s.Buttons...)

	p.mu.Lock()
	p.state = PadState{Axes: axes, Buttons: buttons}
	p.mu.Unlock()
}

// Reset zeroes every axis and releases every button.
func (p *Pad) Reset() {
	p.mu.Lock()
	p.state = PadState{}
	p.mu.Unlock()
}

func (p *Pad) Axis(i int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.state.Axes) {
		return 0
	}
	return p.state.Axes[i]
}

func (p *Pad) Button(n int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n < 1 || n > len(p.state.Buttons) {
		return false
	}
	return p.state.Buttons[n-1]
}

// Joystick names the two axes of a Device.
type Joystick struct {
	dev Device
}

func NewJoystick(dev Device) *Joystick { return &Joystick{dev: dev} }

func (j *Joystick) X() float64 { return j.dev.Axis(0) }
func (j *Joystick) Y() float64 { return j.dev.Axis(1) }

func (j *Joystick) Button(n int) bool { return j.dev.Button(n) }

// ButtonFunc adapts a button to a trigger condition.
func (j *Joystick) ButtonFunc(n int) func() bool {
	return func() bool { return j.dev.Button(n) }
}

// Shape blends a cubic and a linear response: scale*axis^3 + (1-scale)*axis.
func Shape(axis, scale float64) float64 {
	return scale*axis*axis*axis + (1-scale)*axis
}

// Mapping turns a joystick into manual drive axes.
type Mapping struct {
	ScaleX float64 `mapstructure:"scale_x" yaml:"scale_x"`
	ScaleY float64 `mapstructure:"scale_y" yaml:"scale_y"`
}

// Manual returns the turn and forward axes for normal driving. Pushing the
// stick away reads as negative Y, so forward is negated.
func (m Mapping) Manual(j *Joystick) (turn, forward float64) {
	return Shape(j.X(), m.ScaleX), -Shape(j.Y(), m.ScaleY)
}

// Inverse swaps and negates the axes for driving with the robot's back as its front.
func (m Mapping) Inverse(j *Joystick) (turn, forward float64) {
	return -Shape(j.Y(), m.ScaleY), -Shape(j.X(), m.ScaleX)
}
