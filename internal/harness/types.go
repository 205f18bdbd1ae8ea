package harness

// TraceEvent is one executed step or evaluated check. The trace is the
// deterministic record a golden file captures: what ran, what resolved,
// and where each answer came from.
type TraceEvent struct {
	Type     string `json:"type"` // "step" or "check"
	Seq      int    `json:"seq"`
	Op       string `json:"op,omitempty"`
	Entity   string `json:"entity,omitempty"`
	Property string `json:"property,omitempty"`
	Target   string `json:"target,omitempty"`
	Value    string `json:"value,omitempty"`
	Source   string `json:"source,omitempty"`
	Cached   *bool  `json:"cached,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: every check matched.
	Pass bool `json:"pass"`

	// Trace contains every step and check in execution order. Used for
	// golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains check failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a check failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}
