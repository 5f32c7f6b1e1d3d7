package group_test

import (
	"testing"

	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

func lookupFor(states map[id.JobID]job.State) group.Lookup {
	return func(jobID id.JobID) (job.State, bool) {
		st, ok := states[jobID]
		return st, ok
	}
}

func TestAddDeduplicates(t *testing.T) {
	g := group.New("imports", false, false)
	j := id.NewJobID()

	g.Add(j)
	g.Add(j)

	if len(g.MemberIDs) != 1 {
		t.Fatalf("expected 1 member, got %d", len(g.MemberIDs))
	}
	if !g.Contains(j) {
		t.Error("Contains should report the member")
	}
}

func TestSummarizeEmpty(t *testing.T) {
	g := group.New("empty", false, false)
	s := g.Summarize(lookupFor(nil))
	if s.Status != group.StatusEmpty {
		t.Errorf("status = %q, want empty", s.Status)
	}
}

func TestSummarizeStatuses(t *testing.T) {
	a, b, c := id.NewJobID(), id.NewJobID(), id.NewJobID()

	cases := []struct {
		name   string
		states map[id.JobID]job.State
		want   group.Status
	}{
		{"running", map[id.JobID]job.State{a: job.StateCompleted, b: job.StateRunning, c: job.StateQueued}, group.StatusRunning},
		{"completed", map[id.JobID]job.State{a: job.StateCompleted, b: job.StateCompleted, c: job.StateCompleted}, group.StatusCompleted},
		{"failed", map[id.JobID]job.State{a: job.StateCompleted, b: job.StateFailed, c: job.StateCanceled}, group.StatusFailed},
		{"canceled", map[id.JobID]job.State{a: job.StateCompleted, b: job.StateCanceled, c: job.StateCanceled}, group.StatusCanceled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := group.New(tc.name, false, false)
			g.Add(a)
			g.Add(b)
			g.Add(c)

			s := g.Summarize(lookupFor(tc.states))
			if s.Status != tc.want {
				t.Errorf("status = %q, want %q", s.Status, tc.want)
			}
			if s.Total != 3 {
				t.Errorf("total = %d, want 3", s.Total)
			}
		})
	}
}

func TestSummarizeProgress(t *testing.T) {
	a, b := id.NewJobID(), id.NewJobID()
	g := group.New("p", false, false)
	g.Add(a)
	g.Add(b)

	s := g.Summarize(lookupFor(map[id.JobID]job.State{
		a: job.StateCompleted,
		b: job.StateRunning,
	}))
	if s.Progress != 0.5 {
		t.Errorf("progress = %v, want 0.5", s.Progress)
	}
}

func TestFirstBlocking(t *testing.T) {
	a, b, c := id.NewJobID(), id.NewJobID(), id.NewJobID()
	g := group.New("seq", true, false)
	g.Add(a)
	g.Add(b)
	g.Add(c)

	states := map[id.JobID]job.State{
		a: job.StateCompleted,
		b: job.StateQueued,
		c: job.StateWaiting,
	}

	blocking, ok := g.FirstBlocking(lookupFor(states))
	if !ok {
		t.Fatal("expected a blocking member")
	}
	if blocking != b {
		t.Errorf("blocking = %v, want %v", blocking, b)
	}

	states[b] = job.StateCompleted
	states[c] = job.StateCompleted
	if _, ok := g.FirstBlocking(lookupFor(states)); ok {
		t.Error("no member should block when all completed")
	}
}
