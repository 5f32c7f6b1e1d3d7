package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// SaveJob stores the job as a Hash and tracks its id for enumeration.
// Saves are upserts: every state transition overwrites the record.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID), jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch/redis: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
	if err != nil {
		return fmt.Errorf("batch/redis: delete job exists: %w", err)
	}
	if exists == 0 {
		return batch.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch/redis: delete job: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching the given options, ordered by
// CreatedAt ascending.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.State != "" && j.State != opts.State {
			return false
		}
		if opts.Tag != "" && !hasTag(j, opts.Tag) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// PendingJobs returns every job not in a terminal state, ordered by
// CreatedAt ascending. Used for crash recovery on startup.
func (s *Store) PendingJobs(ctx context.Context) ([]*job.Job, error) {
	return s.scanJobs(ctx, func(j *job.Job) bool { return !j.Terminal() })
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.State != "" && j.State != opts.State {
			return false
		}
		if opts.Tag != "" && !hasTag(j, opts.Tag) {
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// ── helpers ──

// scanJobs enumerates the job id Set, loads each Hash, and keeps jobs
// for which match returns true, sorted by CreatedAt ascending.
func (s *Store) scanJobs(ctx context.Context, match func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("batch/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip records deleted mid-scan
		}
		if match(j) {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs, nil
}

func hasTag(j *job.Job, tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("batch/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, batch.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":               j.ID.String(),
		"task":             j.Task,
		"payload":          string(j.Payload),
		"state":            string(j.State),
		"priority":         strconv.Itoa(int(j.Priority)),
		"max_attempts":     strconv.Itoa(j.Retry.MaxAttempts),
		"base_delay":       strconv.FormatInt(int64(j.Retry.BaseDelay), 10),
		"multiplier":       strconv.FormatFloat(j.Retry.Multiplier, 'g', -1, 64),
		"max_delay":        strconv.FormatInt(int64(j.Retry.MaxDelay), 10),
		"attempt":          strconv.Itoa(j.Attempt),
		"result":           string(j.Result),
		"last_error":       j.LastError,
		"progress":         strconv.FormatFloat(j.Progress, 'g', -1, 64),
		"progress_message": j.ProgressMessage,
		"timeout":          strconv.FormatInt(int64(j.Timeout), 10),
		"run_at":           j.RunAt.Format(time.RFC3339Nano),
		"created_at":       j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !j.GroupID.IsNil() {
		m["group_id"] = j.GroupID.String()
	}
	if len(j.DependsOn) > 0 {
		m["depends_on"] = idsToJSON(j.DependsOn)
	}
	if len(j.Tags) > 0 {
		data, _ := json.Marshal(j.Tags) //nolint:errcheck // strings always marshal
		m["tags"] = string(data)
	}
	if len(j.Metadata) > 0 {
		data, _ := json.Marshal(j.Metadata) //nolint:errcheck // string maps always marshal
		m["metadata"] = string(data)
	}
	if j.QueuedAt != nil {
		m["queued_at"] = j.QueuedAt.Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("batch/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	baseDelay, _ := strconv.ParseInt(m["base_delay"], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	multiplier, _ := strconv.ParseFloat(m["multiplier"], 64)      //nolint:errcheck // best-effort parse from trusted Redis data
	maxDelay, _ := strconv.ParseInt(m["max_delay"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.ParseFloat(m["progress"], 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: batch.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:       jID,
		Task:     m["task"],
		Payload:  []byte(m["payload"]),
		State:    job.State(m["state"]),
		Priority: job.Priority(priority),
		Retry: job.RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseDelay:   time.Duration(baseDelay),
			Multiplier:  multiplier,
			MaxDelay:    time.Duration(maxDelay),
		},
		Attempt:         attempt,
		Result:          []byte(m["result"]),
		LastError:       m["last_error"],
		Progress:        progress,
		ProgressMessage: m["progress_message"],
		Timeout:         time.Duration(timeout),
		RunAt:           runAt,
	}
	if len(j.Payload) == 0 {
		j.Payload = nil
	}
	if len(j.Result) == 0 {
		j.Result = nil
	}

	if v := m["group_id"]; v != "" {
		if gID, gErr := id.ParseGroupID(v); gErr == nil {
			j.GroupID = gID
		}
	}
	if v := m["depends_on"]; v != "" {
		j.DependsOn = jobIDsFromJSON(v)
	}
	if v := m["tags"]; v != "" {
		_ = json.Unmarshal([]byte(v), &j.Tags) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &j.Metadata) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["queued_at"]; v != "" {
		if t, tErr := time.Parse(time.RFC3339Nano, v); tErr == nil {
			j.QueuedAt = &t
		}
	}
	if v := m["started_at"]; v != "" {
		if t, tErr := time.Parse(time.RFC3339Nano, v); tErr == nil {
			j.StartedAt = &t
		}
	}
	if v := m["finished_at"]; v != "" {
		if t, tErr := time.Parse(time.RFC3339Nano, v); tErr == nil {
			j.FinishedAt = &t
		}
	}
	return j, nil
}

// idsToJSON encodes a slice of ids as a JSON array of strings.
func idsToJSON[T interface{ String() string }](ids []T) string {
	ss := make([]string, len(ids))
	for i, v := range ids {
		ss[i] = v.String()
	}
	data, _ := json.Marshal(ss) //nolint:errcheck // strings always marshal
	return string(data)
}

// jobIDsFromJSON decodes a JSON array of strings back into job ids.
// Unparseable entries are dropped.
func jobIDsFromJSON(s string) []id.JobID {
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	out := make([]id.JobID, 0, len(ss))
	for _, v := range ss {
		if jID, err := id.ParseJobID(v); err == nil {
			out = append(out, jID)
		}
	}
	return out
}
