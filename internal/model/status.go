package model

import "fmt"

const (
	PhaseResolved  = "resolved"
	PhaseFetching  = "fetching"
	PhaseFetched   = "fetched"
	PhaseAssembled = "assembled"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		PhaseResolved: true,
		PhaseFailed:   true,
	},
	PhaseResolved: {
		PhaseResolved: true,
		PhaseFetching: true,
		PhaseFailed:   true,
	},
	PhaseFetching: {
		PhaseFetching: true,
		PhaseFetched:  true,
		PhaseFailed:   true,
	},
	PhaseFetched: {
		PhaseFetching:  true, // next track
		PhaseAssembled: true,
		PhaseFailed:    true,
	},
	PhaseAssembled: {
		PhaseAssembled: true,
		PhaseCompleted: true,
		PhaseFailed:    true,
	},
	PhaseCompleted: {
		PhaseCompleted: true,
		PhaseResolved:  true, // output removed, fetch again
	},
	PhaseFailed: {
		PhaseFailed:   true,
		PhaseResolved: true, // resume
	},
}

func IsKnownPhase(phase string) bool {
	_, ok := allowedTransitions[phase]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobPhase(job *Job, toPhase string, reason string) error {
	from := job.Phase
	if !CanTransition(from, toPhase) {
		return fmt.Errorf("invalid job phase transition: %q -> %q (session=%s output=%s)", from, toPhase, job.SessionID, job.Output)
	}
	job.Phase = toPhase
	job.Reason = reason
	return nil
}
