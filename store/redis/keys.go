package redis

// Redis key naming conventions for batch data.
// All keys are prefixed with "batch:" to avoid collisions.

const keyPrefix = "batch:"

// jobKey returns the key for a job entity: batch:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// groupKey returns the key for a group entity: batch:group:{id}
func groupKey(id string) string { return keyPrefix + "group:" + id }

// groupIDsKey is the Set tracking all group IDs for enumeration.
const groupIDsKey = keyPrefix + "group_ids"
