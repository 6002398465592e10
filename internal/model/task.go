package model

import "time"

// Task is the durable record of a client request: its spec versions, its append-only
// attempt and transition histories and its lifecycle state.
type Task struct {
	ID         string    `json:"id"`
	State      TaskState `json:"state"`
	MaxRetries int       `json:"max_retries"`
	// Specs are the spec versions, oldest first.
	Specs []TaskSpec `json:"specs"`
	// Inputs are the original input files as dispatched, keyed by input data name.
	Inputs      map[string][]byte  `json:"inputs,omitempty"`
	Attempts    []ExecutionAttempt `json:"attempts"`
	StateReason string             `json:"state_reason,omitempty"`
	// Transitions are the lifecycle state changes, oldest first.
	Transitions []StateTransition `json:"transitions,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// StateTransition is an entry of the lifecycle audit trail.
type StateTransition struct {
	From   TaskState `json:"from"`
	To     TaskState `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// CurrentSpec returns the latest spec version.
func (t Task) CurrentSpec() TaskSpec {
	if len(t.Specs) == 0 {
		return TaskSpec{}
	}
	return t.Specs[len(t.Specs)-1]
}

// CountedAttempts returns the number of attempts that count against the retry bound.
func (t Task) CountedAttempts() int {
	n := 0
	for _, a := range t.Attempts {
		if a.Counted() {
			n++
		}
	}
	return n
}

// LastAttempt returns the latest attempt, if any.
func (t Task) LastAttempt() (ExecutionAttempt, bool) {
	if len(t.Attempts) == 0 {
		return ExecutionAttempt{}, false
	}
	return t.Attempts[len(t.Attempts)-1], true
}

// NextAttemptNumber returns the number the next attempt must have. Numbers are never reused.
func (t Task) NextAttemptNumber() int {
	last, ok := t.LastAttempt()
	if !ok {
		return 1
	}
	return last.Number + 1
}

// TotalUsage returns the accumulated executor usage of all attempts.
func (t Task) TotalUsage() (tokens int, costUSD float64) {
	for _, a := range t.Attempts {
		tokens += a.Usage.Total()
		costUSD += a.Usage.CostUSD()
	}
	return tokens, costUSD
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.Specs = nil
	for _, s := range t.Specs {
		c.Specs = append(c.Specs, s.Clone())
	}
	if t.Inputs != nil {
		c.Inputs = make(map[string][]byte, len(t.Inputs))
		for n, b := range t.Inputs {
			c.Inputs[n] = append([]byte(nil), b...)
		}
	}
	c.Attempts = nil
	for _, a := range t.Attempts {
		c.Attempts = append(c.Attempts, a.Clone())
	}
	c.Transitions = append([]StateTransition(nil), t.Transitions...)
	return c
}
