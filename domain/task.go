package domain

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
)

type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// priorityRank fixes the sort order high < medium < low.
var priorityRank = map[TaskPriority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Task is the single mutable row for a unit of work. A recurring task stays
// one row; its history lives in append-only CompletionRecords.
type Task struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	Status            TaskStatus         `json:"status"`
	Priority          TaskPriority       `json:"priority"`
	Tags              []string           `json:"tags"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	ReminderOffset    ReminderOffset     `json:"reminder_offset,omitempty"`
	IsRecurring       bool               `json:"is_recurring"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// CompletionRecord is an immutable completion fact. It is only ever appended,
// and removed solely by cascading task deletion.
type CompletionRecord struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy string    `json:"completed_by"`
}

// TagCount is a derived tag listing entry; tags have no stored lifecycle of
// their own.
type TagCount struct {
	Name      string `json:"name"`
	TaskCount int    `json:"task_count"`
}

// NormalizeTags lowercases, trims and dedupes tag names, preserving first
// insertion order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		clean := strings.ToLower(strings.TrimSpace(t))
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (t Task) hasTag(name string) bool {
	for _, tag := range t.Tags {
		if tag == name {
			return true
		}
	}
	return false
}

// Validate checks the cross-field invariants of a task. It reports the first
// violation as a *ValidationError (or *PatternError for a malformed
// recurrence rule).
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	switch t.Status {
	case StatusPending, StatusCompleted:
	default:
		return &ValidationError{Field: "status", Reason: "unknown value", Value: string(t.Status)}
	}
	if _, ok := priorityRank[t.Priority]; !ok {
		return &ValidationError{Field: "priority", Reason: "unknown value", Value: string(t.Priority)}
	}
	if t.ReminderOffset != "" {
		if !t.ReminderOffset.Valid() {
			return &ValidationError{Field: "reminder_offset", Reason: "unknown value", Value: string(t.ReminderOffset)}
		}
		if t.DueDate == nil {
			return &ValidationError{Field: "reminder_offset", Reason: "requires due_date"}
		}
	}
	if t.IsRecurring {
		if t.RecurrencePattern == nil {
			return &ValidationError{Field: "recurrence_pattern", Reason: "required for recurring tasks"}
		}
		if t.DueDate == nil {
			return &ValidationError{Field: "due_date", Reason: "required for recurring tasks"}
		}
		if err := t.RecurrencePattern.Validate(); err != nil {
			return err
		}
	} else if t.RecurrencePattern != nil {
		return &ValidationError{Field: "recurrence_pattern", Reason: "set on a non-recurring task"}
	}
	return nil
}
