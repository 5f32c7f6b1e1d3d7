package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

func testJob(state job.State, tags ...string) *job.Job {
	return &job.Job{
		Entity: batch.NewEntity(),
		ID:     id.NewJobID(),
		Task:   "noop",
		State:  state,
		Tags:   tags,
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := testJob(job.StateQueued)
	j.Payload = []byte(`{"n":1}`)
	j.Retry = job.DefaultRetryPolicy()
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.State != job.StateQueued || string(got.Payload) != `{"n":1}` {
		t.Fatalf("got %+v", got)
	}

	// Saved records are copies: mutating the original must not leak.
	j.State = job.StateFailed
	got, _ = s.GetJob(ctx, j.ID)
	if got.State != job.StateQueued {
		t.Fatal("store leaked caller's pointer")
	}

	// Overwrite.
	j.State = job.StateCompleted
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob overwrite: %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.State != job.StateCompleted {
		t.Fatalf("state = %s after overwrite", got.State)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, batch.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestDeleteJob(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := testJob(job.StateCompleted)
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, batch.ErrJobNotFound) {
		t.Fatalf("second delete = %v, want ErrJobNotFound", err)
	}
}

func TestListJobsFiltersAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := testJob(job.StateQueued, "photos")
	second := testJob(job.StateCompleted)
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	third := testJob(job.StateQueued)
	third.CreatedAt = first.CreatedAt.Add(2 * time.Millisecond)
	for _, j := range []*job.Job{second, third, first} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 || all[0].ID != first.ID || all[2].ID != third.ID {
		t.Fatalf("order wrong: %d jobs", len(all))
	}

	queued, _ := s.ListJobs(ctx, job.ListOpts{State: job.StateQueued})
	if len(queued) != 2 {
		t.Fatalf("queued = %d, want 2", len(queued))
	}

	tagged, _ := s.ListJobs(ctx, job.ListOpts{Tag: "photos"})
	if len(tagged) != 1 || tagged[0].ID != first.ID {
		t.Fatalf("tagged = %d", len(tagged))
	}

	paged, _ := s.ListJobs(ctx, job.ListOpts{Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0].ID != second.ID {
		t.Fatalf("paged wrong")
	}
}

func TestPendingJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, st := range []job.State{
		job.StateQueued, job.StateWaiting, job.StateRunning, job.StatePaused,
		job.StateCompleted, job.StateFailed, job.StateCanceled,
	} {
		if err := s.SaveJob(ctx, testJob(st)); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	pending, err := s.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("pending = %d, want 4", len(pending))
	}
	for _, j := range pending {
		if j.Terminal() {
			t.Fatalf("terminal job %s in pending set", j.ID)
		}
	}
}

func TestCountJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	for range 3 {
		if err := s.SaveJob(ctx, testJob(job.StateQueued)); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}
	if err := s.SaveJob(ctx, testJob(job.StateFailed)); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	n, err := s.CountJobs(ctx, job.ListOpts{State: job.StateQueued})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	g := group.New("batch-1", true, true)
	g.Add(id.NewJobID())
	g.Add(id.NewJobID())
	if err := s.SaveGroup(ctx, g); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	got, err := s.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if got.Name != "batch-1" || !got.Sequential || !got.CancelOnFailure || len(got.MemberIDs) != 2 {
		t.Fatalf("got %+v", got)
	}

	if err := s.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if _, err := s.GetGroup(ctx, g.ID); !errors.Is(err, batch.ErrGroupNotFound) {
		t.Fatalf("err = %v, want ErrGroupNotFound", err)
	}
}

func TestListGroups(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := group.New("a", false, false)
	b := group.New("b", false, false)
	b.CreatedAt = a.CreatedAt.Add(time.Millisecond)
	if err := s.SaveGroup(ctx, b); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if err := s.SaveGroup(ctx, a); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "a" {
		t.Fatalf("groups = %d", len(groups))
	}
}
