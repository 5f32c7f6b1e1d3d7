package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// ── Job model ─────────────────────────────────────────────────────

// Collection-valued fields (depends_on, tags, metadata, member_ids)
// are stored as JSON text so SQLite and PostgreSQL rows are identical.
// Serialization happens here, not in the dialect.
type jobModel struct {
	bun.BaseModel `bun:"table:batch_jobs"`

	ID               string     `bun:"id,pk"`
	Task             string     `bun:"task,notnull"`
	Payload          []byte     `bun:"payload"`
	State            string     `bun:"state,notnull"`
	Priority         int        `bun:"priority,notnull,default:1"`
	DependsOn        string     `bun:"depends_on"`
	RetryMaxAttempts int        `bun:"retry_max_attempts,notnull,default:3"`
	RetryBaseDelay   int64      `bun:"retry_base_delay,notnull,default:0"`
	RetryMultiplier  float64    `bun:"retry_multiplier,notnull,default:2"`
	RetryMaxDelay    int64      `bun:"retry_max_delay,notnull,default:0"`
	Attempt          int        `bun:"attempt,notnull,default:0"`
	Result           []byte     `bun:"result"`
	LastError        string     `bun:"last_error"`
	GroupID          string     `bun:"group_id"`
	Tags             string     `bun:"tags"`
	Metadata         string     `bun:"metadata"`
	Timeout          int64      `bun:"timeout_ns,notnull,default:0"`
	Progress         float64    `bun:"progress,notnull,default:0"`
	ProgressMessage  string     `bun:"progress_message"`
	RunAt            time.Time  `bun:"run_at,nullzero"`
	QueuedAt         *time.Time `bun:"queued_at"`
	StartedAt        *time.Time `bun:"started_at"`
	FinishedAt       *time.Time `bun:"finished_at"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	groupID := ""
	if !j.GroupID.IsNil() {
		groupID = j.GroupID.String()
	}
	return &jobModel{
		ID:               j.ID.String(),
		Task:             j.Task,
		Payload:          j.Payload,
		State:            string(j.State),
		Priority:         int(j.Priority),
		DependsOn:        idsToJSON(j.DependsOn),
		RetryMaxAttempts: j.Retry.MaxAttempts,
		RetryBaseDelay:   j.Retry.BaseDelay.Nanoseconds(),
		RetryMultiplier:  j.Retry.Multiplier,
		RetryMaxDelay:    j.Retry.MaxDelay.Nanoseconds(),
		Attempt:          j.Attempt,
		Result:           j.Result,
		LastError:        j.LastError,
		GroupID:          groupID,
		Tags:             stringsToJSON(j.Tags),
		Metadata:         mapToJSON(j.Metadata),
		Timeout:          j.Timeout.Nanoseconds(),
		Progress:         j.Progress,
		ProgressMessage:  j.ProgressMessage,
		RunAt:            j.RunAt,
		QueuedAt:         j.QueuedAt,
		StartedAt:        j.StartedAt,
		FinishedAt:       j.FinishedAt,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("batch/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: batch.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        parsedID,
		Task:      m.Task,
		Payload:   m.Payload,
		State:     job.State(m.State),
		Priority:  job.Priority(m.Priority),
		DependsOn: idsFromJSON(m.DependsOn),
		Retry: job.RetryPolicy{
			MaxAttempts: m.RetryMaxAttempts,
			BaseDelay:   time.Duration(m.RetryBaseDelay),
			Multiplier:  m.RetryMultiplier,
			MaxDelay:    time.Duration(m.RetryMaxDelay),
		},
		Attempt:         m.Attempt,
		Result:          m.Result,
		LastError:       m.LastError,
		Tags:            stringsFromJSON(m.Tags),
		Metadata:        mapFromJSON(m.Metadata),
		Timeout:         time.Duration(m.Timeout),
		Progress:        m.Progress,
		ProgressMessage: m.ProgressMessage,
		RunAt:           m.RunAt,
		QueuedAt:        m.QueuedAt,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
	}

	if m.GroupID != "" {
		parsedGroup, gErr := id.ParseGroupID(m.GroupID)
		if gErr == nil {
			j.GroupID = parsedGroup
		}
	}

	return j, nil
}

// ── Group model ───────────────────────────────────────────────────

type groupModel struct {
	bun.BaseModel `bun:"table:batch_groups"`

	ID              string    `bun:"id,pk"`
	Name            string    `bun:"name,notnull"`
	Sequential      bool      `bun:"sequential,notnull,default:false"`
	CancelOnFailure bool      `bun:"cancel_on_failure,notnull,default:false"`
	MemberIDs       string    `bun:"member_ids"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func toGroupModel(g *group.Group) *groupModel {
	return &groupModel{
		ID:              g.ID.String(),
		Name:            g.Name,
		Sequential:      g.Sequential,
		CancelOnFailure: g.CancelOnFailure,
		MemberIDs:       idsToJSON(g.MemberIDs),
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func fromGroupModel(m *groupModel) (*group.Group, error) {
	parsedID, err := id.ParseGroupID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("batch/bun: parse group id %q: %w", m.ID, err)
	}

	return &group.Group{
		Entity: batch.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		Name:            m.Name,
		Sequential:      m.Sequential,
		CancelOnFailure: m.CancelOnFailure,
		MemberIDs:       idsFromJSON(m.MemberIDs),
	}, nil
}

// ── JSON helpers ──────────────────────────────────────────────────

func idsToJSON(ids []id.ID) string {
	if len(ids) == 0 {
		return ""
	}
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	b, _ := json.Marshal(out) //nolint:errcheck // string slices always marshal
	return string(b)
}

func idsFromJSON(s string) []id.ID {
	if s == "" || s == "null" {
		return nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	out := make([]id.ID, 0, len(raw))
	for _, v := range raw {
		parsed, err := id.Parse(v)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func stringsToJSON(v []string) string {
	if len(v) == 0 {
		return ""
	}
	b, _ := json.Marshal(v) //nolint:errcheck // string slices always marshal
	return string(b)
}

func stringsFromJSON(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse of our own writes
	return out
}

func mapToJSON(v map[string]string) string {
	if len(v) == 0 {
		return ""
	}
	b, _ := json.Marshal(v) //nolint:errcheck // string maps always marshal
	return string(b)
}

func mapFromJSON(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse of our own writes
	return out
}
