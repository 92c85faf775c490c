package models

// Snapshot is a read-only copy of a run's state handed to planners,
// completion criteria, the manager and synthesizers.
type Snapshot struct {
	RunID         string         `json:"run_id"`
	Task          Task           `json:"task"`
	State         State          `json:"state"`
	Plan          *Plan          `json:"plan,omitempty"`
	Contributions []Contribution `json:"contributions"`
	Counters      Counters       `json:"counters"`
}

// AgentOutputs returns agent contributions that are not error-tagged, in order.
func (s Snapshot) AgentOutputs() []Contribution {
	var out []Contribution
	for _, c := range s.Contributions {
		if c.IsAgent() && c.Status != StatusError {
			out = append(out, c)
		}
	}
	return out
}

// LastError returns the most recent error-tagged contribution, if any.
func (s Snapshot) LastError() *Contribution {
	for i := len(s.Contributions) - 1; i >= 0; i-- {
		if s.Contributions[i].Status == StatusError {
			c := s.Contributions[i]
			return &c
		}
	}
	return nil
}
