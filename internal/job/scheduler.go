// Package job executes notebook operations asynchronously and tracks
// their lifecycle for polling clients. A job is registered as running
// before its work starts, so a caller that polls immediately after
// submission never sees an unknown id.
package job

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kairoslabs/kairos/internal/logging"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Job is the polling-observable state of one unit of notebook work.
type Job struct {
	ID     string  `json:"id"`
	Status Status  `json:"status"`
	Error  bool    `json:"error"`
	Output *string `json:"output"`
}

// futureJob is returned for ids the scheduler does not know yet. A client
// may poll before the registration write is visible to it, so an unknown
// id reads as "still running", never as an error.
var futureJob = Job{ID: "future", Status: StatusRunning}

// notebookJobs keeps one notebook's jobs in arrival order.
type notebookJobs struct {
	order []string
	byID  map[string]*Job
}

// Scheduler runs submitted work in goroutines and records terminal state.
// The state mutex passed to NewScheduler is the single notebook-wide
// exclusive lock; jobs submitted with requiresLock serialize behind it.
type Scheduler struct {
	mu    sync.Mutex // guards jobs; never held while state is held
	jobs  map[string]*notebookJobs
	state *sync.Mutex
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler serializing locked jobs behind state.
func NewScheduler(state *sync.Mutex) *Scheduler {
	return &Scheduler{
		jobs:  make(map[string]*notebookJobs),
		state: state,
	}
}

// Submit registers a running job for notebookID and starts work in its
// own goroutine. If requiresLock is true the notebook lock is held for
// the duration of work, making it linearizable with every other locked
// job. The returned id can be polled immediately.
func (s *Scheduler) Submit(notebookID string, requiresLock bool, work func() (string, error)) string {
	return s.SubmitWithID(notebookID, uuid.NewString(), requiresLock, work)
}

// SubmitWithID is Submit with a caller-chosen job id. The load path
// uses it because the job id doubles as the id the loaded notebook is
// registered under.
func (s *Scheduler) SubmitWithID(notebookID, id string, requiresLock bool, work func() (string, error)) string {
	s.mu.Lock()
	nb, ok := s.jobs[notebookID]
	if !ok {
		nb = &notebookJobs{byID: make(map[string]*Job)}
		s.jobs[notebookID] = nb
	}
	nb.order = append(nb.order, id)
	nb.byID[id] = &Job{ID: id, Status: StatusRunning}
	s.mu.Unlock()

	logging.Debug("Job submitted", "notebook", notebookID, "job", id, "locked", requiresLock)

	s.wg.Add(1)
	go s.run(notebookID, id, requiresLock, work)

	return id
}

// run executes one job. Every exit path records a terminal state and
// releases the notebook lock: a panic inside work becomes a failed job,
// never a job stuck in running or a lock held forever.
func (s *Scheduler) run(notebookID, id string, requiresLock bool, work func() (string, error)) {
	defer s.wg.Done()

	output, err := func() (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		if requiresLock {
			s.state.Lock()
			defer s.state.Unlock()
		}

		return work()
	}()

	s.mu.Lock()
	j := s.jobs[notebookID].byID[id]
	if err != nil {
		j.Status = StatusFailed
		j.Error = true
		j.Output = nil
	} else {
		j.Status = StatusFinished
		j.Error = false
		j.Output = &output
	}
	s.mu.Unlock()

	if err != nil {
		logging.Error("Job failed", "notebook", notebookID, "job", id, "error", err)
	} else {
		logging.Debug("Job finished", "notebook", notebookID, "job", id)
	}
}

// Poll returns the job's current state, or the future sentinel for
// unknown ids.
func (s *Scheduler) Poll(notebookID, jobID string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, ok := s.jobs[notebookID]
	if !ok {
		return futureJob
	}
	j, ok := nb.byID[jobID]
	if !ok {
		return futureJob
	}
	return *j
}

// List returns all of a notebook's jobs in arrival order.
func (s *Scheduler) List(notebookID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, ok := s.jobs[notebookID]
	if !ok {
		return nil
	}
	out := make([]Job, 0, len(nb.order))
	for _, id := range nb.order {
		out = append(out, *nb.byID[id])
	}
	return out
}

// Wait blocks until every submitted job has reached a terminal state.
// Used on shutdown and by tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
