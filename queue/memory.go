package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements the same semantics as RedisQueue behind a mutex.
// It backs deployments with redis disabled and the test suites.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	// waiting preserves FIFO order per job key.
	waiting map[string][]string
}

type memoryJob struct {
	id      string
	key     string
	payload Payload
	fireAt  time.Time
	state   State
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(map[string]*memoryJob),
		waiting: make(map[string][]string),
	}
}

func (q *MemoryQueue) EnqueueDelayed(_ context.Context, jobKey string, payload Payload, fireAt time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.New().String()
	q.jobs[id] = &memoryJob{
		id:      id,
		key:     jobKey,
		payload: payload,
		fireAt:  fireAt,
		state:   StateDelayed,
	}
	return id, nil
}

func (q *MemoryQueue) ListPending(_ context.Context, states ...State) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(states) == 0 {
		states = PendingStates
	}
	wanted := make(map[State]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	var jobs []Job
	for _, j := range q.jobs {
		if !wanted[j.state] {
			continue
		}
		job := Job{
			ID:        j.id,
			Key:       j.key,
			Payload:   j.payload,
			Timestamp: j.fireAt,
			State:     j.state,
		}
		if j.state == StateDelayed {
			if remaining := time.Until(j.fireAt); remaining > 0 {
				job.Delay = remaining
			}
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Timestamp.Before(jobs[k].Timestamp) })
	return jobs, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	if job.state == StateWaiting {
		q.removeWaiting(job.key, jobID)
	}
	delete(q.jobs, jobID)
	return nil
}

func (q *MemoryQueue) PromoteDue(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*memoryJob
	for _, j := range q.jobs {
		if j.state == StateDelayed && !j.fireAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].fireAt.Before(due[k].fireAt) })

	for _, j := range due {
		j.state = StateWaiting
		q.waiting[j.key] = append(q.waiting[j.key], j.id)
	}
	return len(due), nil
}

func (q *MemoryQueue) PopWaiting(_ context.Context, jobKey string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.waiting[jobKey]
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]
	q.waiting[jobKey] = ids[1:]

	j, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	j.state = StateActive
	return &Job{
		ID:        j.id,
		Key:       j.key,
		Payload:   j.payload,
		Timestamp: j.fireAt,
		State:     StateActive,
	}, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, jobID)
	return nil
}

func (q *MemoryQueue) removeWaiting(key, jobID string) {
	ids := q.waiting[key]
	for i, id := range ids {
		if id == jobID {
			q.waiting[key] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
