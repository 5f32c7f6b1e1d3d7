package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobQueued     = "job.queued"
	ActionJobStarted    = "job.started"
	ActionJobCompleted  = "job.completed"
	ActionJobFailed     = "job.failed"
	ActionJobRetrying   = "job.retrying"
	ActionJobCanceled   = "job.canceled"
	ActionGroupFinished = "group.finished"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "batch.job"
	CategoryGroup = "batch.group"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceGroup = "group"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobQueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCanceled,
		ActionGroupFinished,
	}
}
