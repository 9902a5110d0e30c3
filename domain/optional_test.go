package domain

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTaskPatchNullVersusAbsent(t *testing.T) {
	var patch TaskPatch
	body := []byte(`{"description":null,"due_date":null,"title":"New title"}`)
	if err := sonic.Unmarshal(body, &patch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !patch.Description.Set || patch.Description.Value != nil {
		t.Fatalf("expected description to be an explicit clear: %+v", patch.Description)
	}
	if !patch.DueDate.Set || patch.DueDate.Value != nil {
		t.Fatalf("expected due_date to be an explicit clear: %+v", patch.DueDate)
	}
	if patch.Priority.Set || patch.Tags.Set || patch.ReminderOffset.Set {
		t.Fatalf("absent fields must stay unset: %+v", patch)
	}

	due := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	base := Task{
		Title:       "Old title",
		Description: "keep or clear",
		Status:      StatusPending,
		Priority:    PriorityLow,
		Tags:        []string{"a"},
		DueDate:     &due,
	}
	next := patch.Apply(base)
	if next.Title != "New title" {
		t.Fatalf("title not applied: %q", next.Title)
	}
	if next.Description != "" || next.DueDate != nil {
		t.Fatalf("null fields not cleared: %+v", next)
	}
	if next.Priority != PriorityLow || len(next.Tags) != 1 {
		t.Fatalf("absent fields were touched: %+v", next)
	}
}

func TestTaskPatchAppliesValues(t *testing.T) {
	var patch TaskPatch
	body := []byte(`{
		"priority":"high",
		"tags":["Work"," URGENT ","work"],
		"due_date":"2024-07-01T10:00:00+02:00",
		"reminder_offset":"1h",
		"is_recurring":true,
		"recurrence_pattern":{"type":"weekly","days_of_week":[1,3]}
	}`)
	if err := sonic.Unmarshal(body, &patch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	next := patch.Apply(Task{Title: "t", Status: StatusPending, Priority: PriorityMedium})
	if next.Priority != PriorityHigh {
		t.Fatalf("priority not applied: %q", next.Priority)
	}
	if len(next.Tags) != 2 || next.Tags[0] != "work" || next.Tags[1] != "urgent" {
		t.Fatalf("tags not normalized: %v", next.Tags)
	}
	if next.DueDate == nil || next.DueDate.Hour() != 10 {
		t.Fatalf("due date not applied: %v", next.DueDate)
	}
	if !next.IsRecurring || next.RecurrencePattern == nil || next.RecurrencePattern.Type != RecurWeekly {
		t.Fatalf("recurrence not applied: %+v", next)
	}
	if err := next.Validate(); err != nil {
		t.Fatalf("patched task should be valid: %v", err)
	}
}

func TestTaskPatchEmpty(t *testing.T) {
	var patch TaskPatch
	if err := sonic.Unmarshal([]byte(`{}`), &patch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !patch.Empty() {
		t.Fatalf("expected empty patch")
	}
}

func TestValidateRejectsInconsistentRecurrence(t *testing.T) {
	due := time.Now()
	cases := []Task{
		{Title: "t", Status: StatusPending, Priority: PriorityMedium, IsRecurring: true, DueDate: &due},
		{Title: "t", Status: StatusPending, Priority: PriorityMedium, RecurrencePattern: &RecurrencePattern{Type: RecurDaily}},
		{Title: "t", Status: StatusPending, Priority: PriorityMedium, IsRecurring: true, RecurrencePattern: &RecurrencePattern{Type: RecurDaily}},
		{Title: "   ", Status: StatusPending, Priority: PriorityMedium},
		{Title: "t", Status: StatusPending, Priority: PriorityMedium, ReminderOffset: "1h"},
		{Title: "t", Status: StatusPending, Priority: PriorityMedium, ReminderOffset: "45m", DueDate: &due},
	}
	for i, task := range cases {
		if err := task.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, task)
		}
	}
}
