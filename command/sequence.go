package command

import "drivetrain-core/utils"

// Sequence runs its steps strictly one after another, advancing a cursor when
// the current step finishes. Bound a step with WithTimeout to limit how long it
// may run. The sequence owns the union of its steps' requirements for its
// whole run.
type Sequence struct {
	Base
	log   *utils.Logger
	steps []Task
	abort func() bool

	cursor  int
	started bool
	aborted bool
}

func NewSequence(name string, log *utils.Logger, steps ...Task) *Sequence {
	return &Sequence{
		Base:  NewBase(name, union(steps...)...),
		log:   log.With("sequence", name),
		steps: steps,
	}
}

// AbortWhen sets a condition polled after each step completes. When it holds
// the remaining steps are skipped and the sequence finishes.
func (s *Sequence) AbortWhen(cond func() bool) *Sequence {
	s.abort = cond
	return s
}

func (s *Sequence) Len() int { return len(s.steps) }

// Cursor is the index of the step currently running, or Len once done.
func (s *Sequence) Cursor() int { return s.cursor }

func (s *Sequence) Aborted() bool { return s.aborted }

func (s *Sequence) Initialize() {
	s.cursor = 0
	s.started = false
	s.aborted = false
	s.log.Info("starting with %d steps", len(s.steps))
}

func (s *Sequence) Execute() {
	if s.IsFinished() {
		return
	}
	st := s.steps[s.cursor]
	if !s.started {
		s.log.Debug("step %d: %s", s.cursor, NameOf(st))
		st.Initialize()
		s.started = true
	}

	if ir, ok := st.(Interrupter); ok && ir.InterruptRequested() {
		s.advance(true)
		return
	}

	st.Execute()
	if st.IsFinished() {
		if to, ok := st.(*Timeout); ok && to.Expired() {
			s.log.Info("step %d (%s) stopped at its time limit", s.cursor, NameOf(st))
		}
		s.advance(false)
	}
}

func (s *Sequence) advance(interrupted bool) {
	s.steps[s.cursor].End(interrupted)
	s.started = false
	s.cursor++
	if s.abort != nil && s.abort() {
		s.aborted = true
		s.log.Warn("aborted after step %d of %d", s.cursor, len(s.steps))
	}
}

func (s *Sequence) IsFinished() bool {
	return s.aborted || s.cursor >= len(s.steps)
}

func (s *Sequence) End(interrupted bool) {
	if s.started && s.cursor < len(s.steps) {
		s.steps[s.cursor].End(true)
		s.started = false
	}
	if interrupted {
		s.log.Info("interrupted at step %d", s.cursor)
	}
}
