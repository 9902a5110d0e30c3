package domain

import "time"

// ReminderOffset is how long before the due date a reminder fires. Only the
// offsets the dashboard offers are accepted.
type ReminderOffset string

const (
	Remind15m ReminderOffset = "15m"
	Remind30m ReminderOffset = "30m"
	Remind1h  ReminderOffset = "1h"
	Remind2h  ReminderOffset = "2h"
	Remind1d  ReminderOffset = "1d"
)

var reminderDurations = map[ReminderOffset]time.Duration{
	Remind15m: 15 * time.Minute,
	Remind30m: 30 * time.Minute,
	Remind1h:  time.Hour,
	Remind2h:  2 * time.Hour,
	Remind1d:  24 * time.Hour,
}

func (o ReminderOffset) Valid() bool {
	_, ok := reminderDurations[o]
	return ok
}

// Duration returns the offset as a time.Duration; zero for unknown offsets.
func (o ReminderOffset) Duration() time.Duration {
	return reminderDurations[o]
}

// RemindAt computes the reminder trigger time for a task, or nil when the
// task has no due date or no offset.
func (t Task) RemindAt() *time.Time {
	if t.DueDate == nil || !t.ReminderOffset.Valid() {
		return nil
	}
	at := t.DueDate.Add(-t.ReminderOffset.Duration())
	return &at
}
