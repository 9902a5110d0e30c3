package domain

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// StoredTask pairs a task with the storage ETag guarding its row.
type StoredTask struct {
	Task Task
	ETag string
}

// TaskStorage is the durable store behind the engine. Implementations own
// task and completion-record lifetimes, scoped per user. Get returns nil for
// an unknown id. Update and ApplyCompletion must reject a stale etag with
// ErrConflict; ApplyCompletion must commit the task transition and the record
// append atomically.
type TaskStorage interface {
	GetTask(ctx context.Context, userID, taskID string) (*StoredTask, error)
	ListTasks(ctx context.Context, userID string) ([]Task, error)
	InsertTask(ctx context.Context, userID string, t Task) error
	UpdateTask(ctx context.Context, userID string, t Task, etag string) error
	DeleteTask(ctx context.Context, userID, taskID string) error
	ApplyCompletion(ctx context.Context, userID string, t Task, etag string, rec CompletionRecord) error
	ListCompletions(ctx context.Context, userID, taskID string) ([]CompletionRecord, error)
}

// EventPublisher emits post-mutation events for downstream services. Delivery
// is best effort and must not block the mutation path.
type EventPublisher interface {
	Publish(ev Event)
}

// Event is the queue payload published after a successful mutation.
type Event struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	UserID    string     `json:"user_id"`
	TaskID    string     `json:"task_id"`
	Task      *Task      `json:"task,omitempty"`
	RemindAt  *time.Time `json:"remind_at,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

const (
	EventTaskCreated       = "task.created"
	EventTaskUpdated       = "task.updated"
	EventTaskCompleted     = "task.completed"
	EventTaskDeleted       = "task.deleted"
	EventReminderScheduled = "reminder.scheduled"
	EventReminderCancelled = "reminder.cancelled"
)

// updateRetries bounds the re-fetch/re-apply loop for PATCH races.
const updateRetries = 3

// TaskService is the recurrence and query engine over a TaskStorage.
type TaskService struct {
	store  TaskStorage
	events EventPublisher
	logger *log.Logger
	now    func() time.Time
}

func NewTaskService(store TaskStorage, events EventPublisher, logger *log.Logger) *TaskService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{store: store, events: events, logger: logger, now: time.Now}
}

// Draft carries the caller-supplied fields of a new task.
type Draft struct {
	Title             string
	Description       string
	Priority          TaskPriority
	Tags              []string
	DueDate           *time.Time
	ReminderOffset    ReminderOffset
	IsRecurring       bool
	RecurrencePattern *RecurrencePattern
}

// Create validates and persists a new pending task. The initial due date of a
// recurring task is taken verbatim; the calculator only runs on completion.
func (s *TaskService) Create(ctx context.Context, userID string, d Draft) (Task, error) {
	now := s.now().UTC()
	t := Task{
		ID:                uuid.NewString(),
		Title:             d.Title,
		Description:       d.Description,
		Status:            StatusPending,
		Priority:          d.Priority,
		Tags:              NormalizeTags(d.Tags),
		DueDate:           d.DueDate,
		ReminderOffset:    d.ReminderOffset,
		IsRecurring:       d.IsRecurring,
		RecurrencePattern: d.RecurrencePattern,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if err := s.store.InsertTask(ctx, userID, t); err != nil {
		return Task{}, s.storeErr(err)
	}
	s.logger.WithFields(log.Fields{"task": t.ID, "user": userID, "recurring": t.IsRecurring}).Debug("task created")
	s.publishTask(EventTaskCreated, userID, t)
	s.publishReminder(userID, t)
	return t, nil
}

// Get returns a single task scoped to the user.
func (s *TaskService) Get(ctx context.Context, userID, taskID string) (Task, error) {
	st, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return Task{}, s.storeErr(err)
	}
	if st == nil {
		return Task{}, ErrNotFound
	}
	return st.Task, nil
}

// Update merges a partial patch into the task. Lost races re-fetch and
// re-apply a bounded number of times before giving up with ErrConflict.
func (s *TaskService) Update(ctx context.Context, userID, taskID string, patch TaskPatch) (Task, error) {
	for attempt := 0; attempt < updateRetries; attempt++ {
		st, err := s.store.GetTask(ctx, userID, taskID)
		if err != nil {
			return Task{}, s.storeErr(err)
		}
		if st == nil {
			return Task{}, ErrNotFound
		}
		if patch.Empty() {
			return st.Task, nil
		}
		prev := st.Task
		next := patch.Apply(prev)
		next.UpdatedAt = s.now().UTC()
		if err := next.Validate(); err != nil {
			return Task{}, err
		}
		if err := s.store.UpdateTask(ctx, userID, next, st.ETag); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return Task{}, s.storeErr(err)
		}
		s.publishTask(EventTaskUpdated, userID, next)
		s.publishReminderDiff(userID, prev, next)
		return next, nil
	}
	return Task{}, ErrConflict
}

// Complete applies one completion event. For a recurring task the due date
// advances and the row stays pending; exactly one concurrent caller wins and
// the rest observe ErrConflict. Completing an already-completed non-recurring
// task is an idempotent no-op.
func (s *TaskService) Complete(ctx context.Context, userID, taskID string) (Task, error) {
	st, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return Task{}, s.storeErr(err)
	}
	if st == nil {
		return Task{}, ErrNotFound
	}
	t := st.Task
	if !t.IsRecurring && t.Status == StatusCompleted {
		return t, nil
	}

	now := s.now().UTC()
	rec := CompletionRecord{
		ID:          uuid.NewString(),
		TaskID:      t.ID,
		CompletedAt: now,
		CompletedBy: userID,
	}
	if t.IsRecurring {
		next, err := NextOccurrence(t.RecurrencePattern, *t.DueDate)
		if err != nil {
			return Task{}, err
		}
		t.DueDate = &next
		t.UpdatedAt = now
	} else {
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.UpdatedAt = now
	}
	if err := s.store.ApplyCompletion(ctx, userID, t, st.ETag, rec); err != nil {
		return Task{}, s.storeErr(err)
	}
	s.logger.WithFields(log.Fields{"task": t.ID, "user": userID, "recurring": t.IsRecurring}).Debug("task completed")
	s.publishTask(EventTaskCompleted, userID, t)
	if t.IsRecurring {
		// The next occurrence inherits the reminder offset.
		s.publishReminder(userID, t)
	}
	return t, nil
}

// Reopen reverts a completed task to pending. History stays: the completion
// record is not removed. Reopening a pending task is an idempotent no-op, and
// a recurring task is already pending by construction.
func (s *TaskService) Reopen(ctx context.Context, userID, taskID string) (Task, error) {
	st, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return Task{}, s.storeErr(err)
	}
	if st == nil {
		return Task{}, ErrNotFound
	}
	t := st.Task
	if t.Status != StatusCompleted {
		return t, nil
	}
	t.Status = StatusPending
	t.CompletedAt = nil
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTask(ctx, userID, t, st.ETag); err != nil {
		return Task{}, s.storeErr(err)
	}
	s.publishTask(EventTaskUpdated, userID, t)
	return t, nil
}

// Delete removes a task and cascades to its completion records.
func (s *TaskService) Delete(ctx context.Context, userID, taskID string) error {
	st, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return s.storeErr(err)
	}
	if st == nil {
		return ErrNotFound
	}
	if err := s.store.DeleteTask(ctx, userID, taskID); err != nil {
		return s.storeErr(err)
	}
	s.publish(Event{Type: EventTaskDeleted, UserID: userID, TaskID: taskID})
	if st.Task.RemindAt() != nil {
		s.publish(Event{Type: EventReminderCancelled, UserID: userID, TaskID: taskID})
	}
	return nil
}

// List evaluates the query over the user's current snapshot.
func (s *TaskService) List(ctx context.Context, userID string, q Query) (QueryResult, error) {
	if err := q.Normalize(); err != nil {
		return QueryResult{}, err
	}
	snapshot, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return QueryResult{}, s.storeErr(err)
	}
	return q.Evaluate(snapshot), nil
}

// Stats computes the dashboard counters over the full task set.
func (s *TaskService) Stats(ctx context.Context, userID string) (Stats, error) {
	snapshot, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return Stats{}, s.storeErr(err)
	}
	return ComputeStats(snapshot, s.now()), nil
}

// Completions returns the task's completion history ordered by completion
// time ascending.
func (s *TaskService) Completions(ctx context.Context, userID, taskID string) ([]CompletionRecord, error) {
	st, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if st == nil {
		return nil, ErrNotFound
	}
	recs, err := s.store.ListCompletions(ctx, userID, taskID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CompletedAt.Equal(recs[j].CompletedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CompletedAt.Before(recs[j].CompletedAt)
	})
	return recs, nil
}

// TagSuggestions derives the user's tag listing from the current task set,
// optionally narrowed by a name prefix and minus the tags already applied.
func (s *TaskService) TagSuggestions(ctx context.Context, userID, prefix string, exclude []string) ([]TagCount, error) {
	snapshot, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range NormalizeTags(exclude) {
		skip[e] = struct{}{}
	}
	counts := make(map[string]int)
	for _, t := range snapshot {
		for _, tag := range t.Tags {
			counts[tag]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for name, n := range counts {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := skip[name]; ok {
			continue
		}
		out = append(out, TagCount{Name: name, TaskCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *TaskService) storeErr(err error) error {
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	return unavailable(err)
}

func (s *TaskService) publish(ev Event) {
	if s.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = s.now().UTC()
	s.events.Publish(ev)
}

func (s *TaskService) publishTask(eventType, userID string, t Task) {
	task := t
	s.publish(Event{Type: eventType, UserID: userID, TaskID: t.ID, Task: &task})
}

func (s *TaskService) publishReminder(userID string, t Task) {
	if at := t.RemindAt(); at != nil {
		s.publish(Event{Type: EventReminderScheduled, UserID: userID, TaskID: t.ID, RemindAt: at})
	}
}

// publishReminderDiff emits schedule/cancel events when an update changed the
// effective reminder time.
func (s *TaskService) publishReminderDiff(userID string, prev, next Task) {
	before, after := prev.RemindAt(), next.RemindAt()
	switch {
	case before == nil && after == nil:
	case after == nil:
		s.publish(Event{Type: EventReminderCancelled, UserID: userID, TaskID: next.ID})
	case before == nil || !before.Equal(*after):
		s.publishReminder(userID, next)
	}
}
