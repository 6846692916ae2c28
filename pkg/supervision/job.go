package supervision

import "strconv"

// jobIDKey formats a job id as the key used under /Target/ToDo,
// /Target/Pending, /Target/Finished and /Target/Failed.
func jobIDKey(id uint64) string {
    return strconv.FormatUint(id, 10)
}

// JobType tags the reconfiguration job variants the factory can emit.
type JobType string

const (
    JobFailedServer   JobType = "FailedServer"
    JobActiveFailover JobType = "ActiveFailover"
    JobAddFollower    JobType = "AddFollower"
    JobRemoveFollower JobType = "RemoveFollower"
    JobMoveShard      JobType = "MoveShard"
    JobCleanOutServer JobType = "CleanOutServer"
)

// JobState is a job's position in its ToDo -> Pending -> Finished|Failed
// state machine.
type JobState string

const (
    JobToDo     JobState = "ToDo"
    JobPending  JobState = "Pending"
    JobFinished JobState = "Finished"
    JobFailed   JobState = "Failed"
)

// Job is one reconfiguration job. Not every field applies to every JobType;
// unused fields are left zero, mirroring the tagged-variant shape of the
// upstream job hierarchy without a Go type per variant.
type Job struct {
    ID         uint64   `json:"id"`
    Type       JobType  `json:"type"`
    State      JobState `json:"state"`
    Source     string   `json:"source,omitempty"`
    Target     string   `json:"target,omitempty"`
    Shard      string   `json:"shard,omitempty"`
    Collection string   `json:"collection,omitempty"`
    Database   string   `json:"database,omitempty"`
}

// ToValue serializes j as a plain map for a txn.Builder Set call.
func (j Job) ToValue() map[string]interface{} {
    v := map[string]interface{}{
        "id":    j.ID,
        "type":  string(j.Type),
        "state": string(j.State),
    }
    if j.Source != "" {
        v["source"] = j.Source
    }
    if j.Target != "" {
        v["target"] = j.Target
    }
    if j.Shard != "" {
        v["shard"] = j.Shard
    }
    if j.Collection != "" {
        v["collection"] = j.Collection
    }
    if j.Database != "" {
        v["database"] = j.Database
    }
    return v
}

// jobFromValue decodes a Job previously written by ToValue, tolerating the
// float64 JSON decode of numeric fields.
func jobFromValue(m map[string]interface{}) Job {
    j := Job{}
    if v, ok := m["id"].(float64); ok {
        j.ID = uint64(v)
    }
    if v, ok := m["type"].(string); ok {
        j.Type = JobType(v)
    }
    if v, ok := m["state"].(string); ok {
        j.State = JobState(v)
    }
    if v, ok := m["source"].(string); ok {
        j.Source = v
    }
    if v, ok := m["target"].(string); ok {
        j.Target = v
    }
    if v, ok := m["shard"].(string); ok {
        j.Shard = v
    }
    if v, ok := m["collection"].(string); ok {
        j.Collection = v
    }
    if v, ok := m["database"].(string); ok {
        j.Database = v
    }
    return j
}
