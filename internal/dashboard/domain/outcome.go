package dashboard

// Outcome classifies what happened to one source in one cycle.
type Outcome string

const (
	OutcomeRendered        Outcome = "rendered"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeGateUnavailable Outcome = "gate_unavailable"
	OutcomeFetchFailed     Outcome = "fetch_failed"
	OutcomeEmptySeries     Outcome = "empty_series"
	OutcomeRenderFailed    Outcome = "render_failed"
)

// Failed reports whether the outcome is an error rather than a skip.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeGateUnavailable, OutcomeFetchFailed, OutcomeRenderFailed:
		return true
	default:
		return false
	}
}
