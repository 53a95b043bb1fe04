package shadow

import "sync"

// Aggregator collects mismatches across a session. Safe for use from
// multiple observers.
type Aggregator struct {
	mu         sync.Mutex
	mismatches []Mismatch
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records one mismatch.
func (a *Aggregator) Add(m Mismatch) {
	a.mu.Lock()
	a.mismatches = append(a.mismatches, m)
	a.mu.Unlock()
}

// Mismatches returns a copy of everything recorded so far.
func (a *Aggregator) Mismatches() []Mismatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Mismatch, len(a.mismatches))
	copy(out, a.mismatches)
	return out
}

// Summary is the session-level rollup of the mismatch record.
type Summary struct {
	Total      int                  `json:"total"`
	BySeverity map[Severity]int     `json:"by_severity"`
	ByType     map[MismatchType]int `json:"by_type"`
	ByDoc      map[string]int       `json:"by_doc"`
	Worst      Severity             `json:"worst,omitempty"`
}

// Summarize rolls up the record per severity, type and document.
func (a *Aggregator) Summarize() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Total:      len(a.mismatches),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[MismatchType]int),
		ByDoc:      make(map[string]int),
	}
	for _, m := range a.mismatches {
		s.BySeverity[m.Severity]++
		s.ByType[m.Type]++
		s.ByDoc[m.Doc]++
		if m.Severity.rank() > s.Worst.rank() {
			s.Worst = m.Severity
		}
	}
	return s
}

// Clean reports whether the record is empty at error level or above;
// info and warning mismatches alone do not fail a rollout comparison.
func (a *Aggregator) Clean() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.mismatches {
		if m.Severity.rank() >= SeverityError.rank() {
			return false
		}
	}
	return true
}
