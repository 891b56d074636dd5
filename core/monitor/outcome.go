package monitor

// Outcome is how processing a candidate ended.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeAlreadyProcessed
	OutcomeDuplicate
	OutcomeMinted
	OutcomeFailed
	OutcomePending
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeMinted:
		return "minted"
	case OutcomeFailed:
		return "failed"
	case OutcomePending:
		return "pending"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// definitive outcomes are never retried.
func (o Outcome) definitive() bool {
	return o != OutcomePending && o != OutcomeUnavailable
}

// worse orders outcomes by declaration: a retryable outcome outranks a
// definitive one.
func (o Outcome) worse(than Outcome) bool {
	return o > than
}
