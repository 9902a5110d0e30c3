package domain

import "time"

// Stats are the dashboard counters, computed over the full unfiltered task
// set at call time. high_priority deliberately counts only pending tasks:
// the counter reflects outstanding urgency, not historical volume.
type Stats struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Completed    int `json:"completed"`
	Overdue      int `json:"overdue"`
	HighPriority int `json:"high_priority"`
}

// ComputeStats aggregates the snapshot relative to now.
func ComputeStats(snapshot []Task, now time.Time) Stats {
	var s Stats
	s.Total = len(snapshot)
	for _, t := range snapshot {
		switch t.Status {
		case StatusPending:
			s.Pending++
			if t.DueDate != nil && t.DueDate.Before(now) {
				s.Overdue++
			}
			if t.Priority == PriorityHigh {
				s.HighPriority++
			}
		case StatusCompleted:
			s.Completed++
		}
	}
	return s
}
