package command

// Trigger schedules tasks on edges of a polled condition, such as a button.
type Trigger struct {
	cond      func() bool
	last      bool
	onTrue    []Task
	whileHeld []Task
}

func NewTrigger(cond func() bool) *Trigger {
	return &Trigger{cond: cond}
}

// OnTrue schedules t when the condition becomes true.
func (tr *Trigger) OnTrue(t Task) *Trigger {
	tr.onTrue = append(tr.onTrue, t)
	return tr
}

// WhileHeld keeps t scheduled while the condition holds, rescheduling it if
// it finishes, and cancels it when the condition is released.
func (tr *Trigger) WhileHeld(t Task) *Trigger {
	tr.whileHeld = append(tr.whileHeld, t)
	return tr
}

func (tr *Trigger) poll(s *Scheduler) {
	now := tr.cond()
	rising := now && !tr.last
	falling := !now && tr.last
	tr.last = now

	if rising {
		tr.scheduleAll(s, tr.onTrue)
	}
	if falling {
		for _, t := range tr.whileHeld {
			s.Cancel(t)
		}
	}
	if now {
		for _, t := range tr.whileHeld {
			if !s.IsScheduled(t) {
				tr.scheduleAll(s, []Task{t})
			}
		}
	}
}

func (tr *Trigger) scheduleAll(s *Scheduler, tasks []Task) {
	for _, t := range tasks {
		if err := s.Schedule(t); err != nil {
			s.log.Warn("trigger could not schedule %s: %v", NameOf(t), err)
		}
	}
}
