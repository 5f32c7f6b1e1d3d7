package group

import (
	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Status is the derived lifecycle status of a group. It is computed
// from member job states, never stored.
type Status string

const (
	// StatusEmpty means the group has no members yet.
	StatusEmpty Status = "empty"
	// StatusRunning means at least one member is non-terminal.
	StatusRunning Status = "running"
	// StatusCompleted means every member completed successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means all members are terminal and at least one
	// failed.
	StatusFailed Status = "failed"
	// StatusCanceled means all members are terminal, none failed, and
	// at least one was canceled.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is a resting state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Group is an ordered collection of jobs that share a lifecycle.
//
// Members are referenced by id into the engine's job table; the group
// never owns Job objects. Insertion order of MemberIDs is significant
// when Sequential is true.
type Group struct {
	batch.Entity

	ID   id.GroupID `json:"id"`
	Name string     `json:"name"`

	// Sequential executes members one at a time in submission order.
	Sequential bool `json:"sequential"`

	// CancelOnFailure cancels all not-yet-terminal siblings when any
	// member fails.
	CancelOnFailure bool `json:"cancel_on_failure"`

	MemberIDs []id.JobID `json:"member_ids,omitempty"`
}

// New creates an empty group.
func New(name string, sequential, cancelOnFailure bool) *Group {
	return &Group{
		Entity:          batch.NewEntity(),
		ID:              id.NewGroupID(),
		Name:            name,
		Sequential:      sequential,
		CancelOnFailure: cancelOnFailure,
	}
}

// Add appends a member id if not already present.
func (g *Group) Add(jobID id.JobID) {
	for _, m := range g.MemberIDs {
		if m == jobID {
			return
		}
	}
	g.MemberIDs = append(g.MemberIDs, jobID)
	g.Touch()
}

// Contains reports whether jobID is a member.
func (g *Group) Contains(jobID id.JobID) bool {
	for _, m := range g.MemberIDs {
		if m == jobID {
			return true
		}
	}
	return false
}

// Clone returns a copy with its own member slice.
func (g *Group) Clone() *Group {
	cp := *g
	if len(g.MemberIDs) > 0 {
		cp.MemberIDs = append([]id.JobID(nil), g.MemberIDs...)
	}
	return &cp
}

// Lookup resolves a member id to its current job state. The second
// return is false when the job is unknown (e.g. deleted); unknown
// members are ignored in summaries.
type Lookup func(id.JobID) (job.State, bool)

// Summary is a point-in-time view of group progress for progress UIs.
type Summary struct {
	Status    Status  `json:"status"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Canceled  int     `json:"canceled"`
	Active    int     `json:"active"`
	Progress  float64 `json:"progress"`
}

// Summarize derives the group's status and member counts from the
// current member states.
func (g *Group) Summarize(lookup Lookup) Summary {
	s := Summary{}
	for _, m := range g.MemberIDs {
		st, ok := lookup(m)
		if !ok {
			continue
		}
		s.Total++
		switch st {
		case job.StateCompleted:
			s.Completed++
		case job.StateFailed:
			s.Failed++
		case job.StateCanceled:
			s.Canceled++
		default:
			s.Active++
		}
	}

	if s.Total > 0 {
		s.Progress = float64(s.Completed+s.Failed+s.Canceled) / float64(s.Total)
	}

	switch {
	case s.Total == 0:
		s.Status = StatusEmpty
	case s.Active > 0:
		s.Status = StatusRunning
	case s.Failed > 0:
		s.Status = StatusFailed
	case s.Canceled > 0:
		s.Status = StatusCanceled
	default:
		s.Status = StatusCompleted
	}
	return s
}

// FirstBlocking returns the earliest member (by insertion order) that
// has not completed, for sequential gating: a later member may run only
// once every earlier member is completed. The boolean is false when all
// members completed.
func (g *Group) FirstBlocking(lookup Lookup) (id.JobID, bool) {
	for _, m := range g.MemberIDs {
		st, ok := lookup(m)
		if !ok {
			continue
		}
		if st != job.StateCompleted {
			return m, true
		}
	}
	return id.Nil, false
}
