package model

import "testing"

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"", PhaseResolved},
		{PhaseResolved, PhaseFetching},
		{PhaseFetching, PhaseFetched},
		{PhaseFetched, PhaseFetching},
		{PhaseFetched, PhaseAssembled},
		{PhaseAssembled, PhaseCompleted},
		{PhaseFetching, PhaseFailed},
		{PhaseFailed, PhaseResolved},
		{PhaseCompleted, PhaseResolved},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{PhaseResolved, PhaseCompleted},
		{PhaseFetching, PhaseAssembled},
		{PhaseCompleted, PhaseFetching},
		{PhaseFailed, PhaseCompleted},
		{"not_a_phase", PhaseResolved},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionJobPhase_BlocksIllegalTransition(t *testing.T) {
	job := Job{
		SessionID: "s-1",
		Output:    "out.mp4",
		Phase:     PhaseResolved,
	}

	if err := TransitionJobPhase(&job, PhaseCompleted, ""); err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if job.Phase != PhaseResolved {
		t.Fatalf("phase changed on rejected transition: got %q", job.Phase)
	}
}
