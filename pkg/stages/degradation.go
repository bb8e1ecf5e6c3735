package stages

// Degradation marks a model-call stage's typed, non-fatal fallback path:
// the circuit was open, the budget was exhausted, or the client otherwise
// refused the call. Downstream stages (StudentCall, Synthesize) inspect
// this instead of a stage-fatal error — per spec.md §4.7, TeacherCall
// degradation must never fail the plan.
type Degradation struct {
	Reason string
}
