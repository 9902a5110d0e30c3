package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Optional is a tri-state PATCH field: absent (leave untouched), null (clear)
// or a value. Absent is the zero value; decoding only ever sets Set=true.
type Optional[T any] struct {
	Set   bool
	Value *T
}

var jsonNull = []byte("null")

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, jsonNull) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Value == nil {
		return jsonNull, nil
	}
	return json.Marshal(*o.Value)
}

// TaskPatch is a partial task update. Status is not patchable; it only moves
// through the complete/reopen transitions.
type TaskPatch struct {
	Title             Optional[string]            `json:"title,omitempty"`
	Description       Optional[string]            `json:"description,omitempty"`
	Priority          Optional[TaskPriority]      `json:"priority,omitempty"`
	Tags              Optional[[]string]          `json:"tags,omitempty"`
	DueDate           Optional[time.Time]         `json:"due_date,omitempty"`
	ReminderOffset    Optional[ReminderOffset]    `json:"reminder_offset,omitempty"`
	IsRecurring       Optional[bool]              `json:"is_recurring,omitempty"`
	RecurrencePattern Optional[RecurrencePattern] `json:"recurrence_pattern,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Priority.Set && !p.Tags.Set &&
		!p.DueDate.Set && !p.ReminderOffset.Set && !p.IsRecurring.Set && !p.RecurrencePattern.Set
}

// Apply merges the patch into a copy of t. Fields set to null clear; absent
// fields stay untouched. Non-clearable fields treat null as a validation
// problem surfaced by the subsequent Validate call.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title.Set {
		if p.Title.Value != nil {
			t.Title = *p.Title.Value
		} else {
			t.Title = ""
		}
	}
	if p.Description.Set {
		if p.Description.Value != nil {
			t.Description = *p.Description.Value
		} else {
			t.Description = ""
		}
	}
	if p.Priority.Set && p.Priority.Value != nil {
		t.Priority = *p.Priority.Value
	}
	if p.Tags.Set {
		if p.Tags.Value != nil {
			t.Tags = NormalizeTags(*p.Tags.Value)
		} else {
			t.Tags = nil
		}
	}
	if p.DueDate.Set {
		if p.DueDate.Value != nil {
			due := *p.DueDate.Value
			t.DueDate = &due
		} else {
			t.DueDate = nil
		}
	}
	if p.ReminderOffset.Set {
		if p.ReminderOffset.Value != nil {
			t.ReminderOffset = *p.ReminderOffset.Value
		} else {
			t.ReminderOffset = ""
		}
	}
	if p.IsRecurring.Set && p.IsRecurring.Value != nil {
		t.IsRecurring = *p.IsRecurring.Value
	}
	if p.RecurrencePattern.Set {
		if p.RecurrencePattern.Value != nil {
			pat := *p.RecurrencePattern.Value
			t.RecurrencePattern = &pat
		} else {
			t.RecurrencePattern = nil
		}
	}
	return t
}
