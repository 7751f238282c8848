package engine

// NewSessionState is the record a session starts from and returns to on reset.
func NewSessionState() State {
	return State{
		SuccessCount: Unset,
		StageIndex:   Unset,
		VariantIndex: Unset,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// DerivePhase computes the lifecycle phase from the replicated fields alone.
func DerivePhase(s State, stages []StageConfig) Phase {
	if s.SuccessCount < 0 {
		return PhaseNotStarted
	}
	if s.StageIndex < 0 || int(s.StageIndex) >= len(stages) {
		return PhaseNotStarted
	}
	if int(s.SuccessCount) >= stages[s.StageIndex].Target {
		return PhaseCompleted
	}
	return PhaseInProgress
}

// HasAnomaly reports whether the record shows an anomalous variant.
func (s State) HasAnomaly() bool { return s.VariantIndex != Unset }
