package sim

// Motor records the last duty cycle it was given.
type Motor struct {
	Duty    float64
	History []float64
}

func (m *Motor) Set(duty float64) {
	m.Duty = duty
	m.History = append(m.History, duty)
}
