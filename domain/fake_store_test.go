package domain

import (
	"context"
	"fmt"
	"sync"
)

// fakeStore is an in-memory TaskStorage with the same conditional-update
// semantics as the real table store: every write bumps the etag and stale
// etags fail with ErrConflict.
type fakeStore struct {
	mu          sync.Mutex
	tasks       map[string]map[string]*fakeRow // userID -> taskID -> row
	completions map[string][]CompletionRecord  // userID -> records
	failWith    error
	afterGet    func() // called outside the lock, for race orchestration
}

type fakeRow struct {
	task Task
	etag int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:       make(map[string]map[string]*fakeRow),
		completions: make(map[string][]CompletionRecord),
	}
}

func (f *fakeStore) GetTask(_ context.Context, userID, taskID string) (*StoredTask, error) {
	f.mu.Lock()
	if f.failWith != nil {
		f.mu.Unlock()
		return nil, f.failWith
	}
	row, ok := f.tasks[userID][taskID]
	var st *StoredTask
	if ok {
		st = &StoredTask{Task: row.task, ETag: fmt.Sprint(row.etag)}
	}
	f.mu.Unlock()
	if f.afterGet != nil {
		f.afterGet()
	}
	if st == nil {
		return nil, nil
	}
	return st, nil
}

func (f *fakeStore) ListTasks(_ context.Context, userID string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([]Task, 0, len(f.tasks[userID]))
	for _, row := range f.tasks[userID] {
		out = append(out, row.task)
	}
	return out, nil
}

func (f *fakeStore) InsertTask(_ context.Context, userID string, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if f.tasks[userID] == nil {
		f.tasks[userID] = make(map[string]*fakeRow)
	}
	f.tasks[userID][t.ID] = &fakeRow{task: t, etag: 1}
	return nil
}

func (f *fakeStore) updateLocked(userID string, t Task, etag string) error {
	row, ok := f.tasks[userID][t.ID]
	if !ok {
		return ErrNotFound
	}
	if fmt.Sprint(row.etag) != etag {
		return ErrConflict
	}
	row.task = t
	row.etag++
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, userID string, t Task, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	return f.updateLocked(userID, t, etag)
}

func (f *fakeStore) DeleteTask(_ context.Context, userID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.tasks[userID], taskID)
	kept := f.completions[userID][:0]
	for _, rec := range f.completions[userID] {
		if rec.TaskID != taskID {
			kept = append(kept, rec)
		}
	}
	f.completions[userID] = kept
	return nil
}

func (f *fakeStore) ApplyCompletion(_ context.Context, userID string, t Task, etag string, rec CompletionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if err := f.updateLocked(userID, t, etag); err != nil {
		return err
	}
	f.completions[userID] = append(f.completions[userID], rec)
	return nil
}

func (f *fakeStore) ListCompletions(_ context.Context, userID, taskID string) ([]CompletionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []CompletionRecord
	for _, rec := range f.completions[userID] {
		if rec.TaskID == taskID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) byType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
