package relay

import (
	"sort"
	"time"
)

type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// JobStatus tracks one queued broadcast.
type JobStatus struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	Sender    string    `json:"sender,omitempty"`
	Report    *Report   `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	DoneAt    time.Time `json:"doneAt,omitzero"`
}

// JobEvent is the bus payload for EventJob.
type JobEvent struct {
	ID    string   `json:"id"`
	State JobState `json:"state"`
	Error string   `json:"error,omitempty"`
}

// Status returns a copy of the job's status.
func (r *Relay) Status(id string) (JobStatus, bool) {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	st, ok := r.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func (r *Relay) putStatus(st *JobStatus) {
	r.PruneStatus(st.CreatedAt)
	r.statusMu.Lock()
	r.status[st.ID] = st
	r.statusMu.Unlock()
}

func (r *Relay) setRunning(id string) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if st := r.status[id]; st != nil {
		st.State = JobRunning
		st.StartedAt = time.Now()
	}
}

func (r *Relay) finishStatus(id string, rep *Report, err error) {
	now := time.Now()
	r.statusMu.Lock()
	if st := r.status[id]; st != nil {
		st.DoneAt = now
		st.Report = rep
		st.State = JobDone
		if err != nil {
			st.State = JobFailed
			st.Error = err.Error()
		}
	}
	r.statusMu.Unlock()
	r.PruneStatus(now)
}

// PruneStatus drops finished jobs older than the status TTL, then the oldest
// entries beyond the status cap.
func (r *Relay) PruneStatus(now time.Time) int {
	r.mu.Lock()
	limit, ttl := r.cfg.StatusMax, r.cfg.StatusTTL
	r.mu.Unlock()

	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	before := len(r.status)
	for id, st := range r.status {
		ref := st.DoneAt
		if ref.IsZero() {
			ref = st.CreatedAt
		}
		if now.Sub(ref) > ttl {
			delete(r.status, id)
		}
	}
	if len(r.status) <= limit {
		return before - len(r.status)
	}

	type aged struct {
		id string
		at time.Time
	}
	items := make([]aged, 0, len(r.status))
	for id, st := range r.status {
		at := st.DoneAt
		if at.IsZero() {
			at = st.CreatedAt
		}
		items = append(items, aged{id: id, at: at})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	for _, it := range items[:len(r.status)-limit] {
		delete(r.status, it.id)
	}
	return before - len(r.status)
}
