package job

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobVisibleImmediately(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	release := make(chan struct{})
	id := s.Submit("nb1", false, func() (string, error) {
		<-release
		return "done", nil
	})

	// Registered as running before the work completes.
	j := s.Poll("nb1", id)
	if j.ID != id || j.Status != StatusRunning {
		t.Errorf("expected running job %s, got %+v", id, j)
	}

	close(release)
	s.Wait()
}

func TestUnknownIDReturnsFutureSentinel(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	j := s.Poll("nb1", "nope")
	if j.ID != "future" || j.Status != StatusRunning || j.Error {
		t.Errorf("expected future sentinel, got %+v", j)
	}

	// Also for a known notebook with an unknown job id.
	s.Submit("nb1", false, func() (string, error) { return "", nil })
	j = s.Poll("nb1", "nope")
	if j.ID != "future" {
		t.Errorf("expected future sentinel, got %+v", j)
	}
	s.Wait()
}

func TestTerminalStateConsistent(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	okID := s.Submit("nb1", false, func() (string, error) { return "result", nil })
	badID := s.Submit("nb1", false, func() (string, error) { return "", errors.New("boom") })
	s.Wait()

	j := s.Poll("nb1", okID)
	if j.Status != StatusFinished || j.Error || j.Output == nil || *j.Output != "result" {
		t.Errorf("finished job inconsistent: %+v", j)
	}

	j = s.Poll("nb1", badID)
	if j.Status != StatusFailed || !j.Error || j.Output != nil {
		t.Errorf("failed job inconsistent: %+v", j)
	}

	// Polling again returns the identical terminal value.
	again := s.Poll("nb1", okID)
	if again.Status != j.Status && *again.Output != "result" {
		t.Errorf("terminal state not idempotent: %+v", again)
	}
}

func TestPanicBecomesFailedJob(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	id := s.Submit("nb1", true, func() (string, error) {
		panic("unhandled")
	})
	s.Wait()

	j := s.Poll("nb1", id)
	if j.Status != StatusFailed || !j.Error {
		t.Errorf("panicking job must fail, got %+v", j)
	}

	// The notebook lock must not be left held.
	locked := make(chan struct{})
	go func() {
		lock.Lock()
		lock.Unlock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("notebook lock still held after job panic")
	}
}

func TestLockedJobsNeverOverlap(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	var inCritical, maxInCritical int64
	work := func() (string, error) {
		n := atomic.AddInt64(&inCritical, 1)
		for {
			max := atomic.LoadInt64(&maxInCritical)
			if n <= max || atomic.CompareAndSwapInt64(&maxInCritical, max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inCritical, -1)
		return "", nil
	}

	for i := 0; i < 10; i++ {
		s.Submit("nb1", true, work)
	}
	s.Wait()

	if max := atomic.LoadInt64(&maxInCritical); max != 1 {
		t.Errorf("critical sections overlapped: max concurrency %d", max)
	}
}

func TestUnlockedJobsRunConcurrently(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	var running int64
	both := make(chan struct{})
	var once sync.Once

	work := func() (string, error) {
		if atomic.AddInt64(&running, 1) == 2 {
			once.Do(func() { close(both) })
		}
		<-both
		return "", nil
	}

	s.Submit("nb1", false, work)
	s.Submit("nb1", false, work)

	select {
	case <-both:
	case <-time.After(2 * time.Second):
		t.Fatal("unlocked jobs did not overlap")
	}
	s.Wait()
}

func TestListArrivalOrder(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.Submit("nb1", false, func() (string, error) { return "", nil }))
	}
	s.Wait()

	jobs := s.List("nb1")
	if len(jobs) != len(ids) {
		t.Fatalf("expected %d jobs, got %d", len(ids), len(jobs))
	}
	for i, j := range jobs {
		if j.ID != ids[i] {
			t.Errorf("job[%d] = %s, expected %s", i, j.ID, ids[i])
		}
	}

	if got := s.List("other"); got != nil {
		t.Errorf("expected nil for unknown notebook, got %v", got)
	}
}

func TestNotebooksIsolated(t *testing.T) {
	var lock sync.Mutex
	s := NewScheduler(&lock)

	a := s.Submit("a", false, func() (string, error) { return "", nil })
	s.Wait()

	if j := s.Poll("b", a); j.ID != "future" {
		t.Errorf("job leaked across notebooks: %+v", j)
	}
}
