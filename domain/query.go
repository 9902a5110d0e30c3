package domain

import (
	"sort"
	"strings"
	"time"
)

type SortKey string

const (
	SortByCreatedAt SortKey = "created_at"
	SortByDueDate   SortKey = "due_date"
	SortByPriority  SortKey = "priority"
	SortByTitle     SortKey = "title"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query is the filter/sort/pagination criteria for a task listing. Zero
// values mean unconstrained; all constraints combine with AND.
type Query struct {
	Text      string
	Status    TaskStatus
	Priority  TaskPriority
	Tags      []string
	DueFrom   *time.Time
	DueTo     *time.Time
	SortBy    SortKey
	SortOrder SortOrder
	Page      int
	PageSize  int
}

// QueryResult is one page of tasks plus the full filtered count.
type QueryResult struct {
	Tasks    []Task `json:"tasks"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// Normalize fills defaults and validates enumerated fields.
func (q *Query) Normalize() error {
	if q.Status != "" && q.Status != StatusPending && q.Status != StatusCompleted {
		return &ValidationError{Field: "status", Reason: "unknown value", Value: string(q.Status)}
	}
	if q.Priority != "" {
		if _, ok := priorityRank[q.Priority]; !ok {
			return &ValidationError{Field: "priority", Reason: "unknown value", Value: string(q.Priority)}
		}
	}
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}
	switch q.SortBy {
	case SortByCreatedAt, SortByDueDate, SortByPriority, SortByTitle:
	default:
		return &ValidationError{Field: "sort_by", Reason: "unknown value", Value: string(q.SortBy)}
	}
	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return &ValidationError{Field: "sort_order", Reason: "unknown value", Value: string(q.SortOrder)}
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Tags = NormalizeTags(q.Tags)
	return nil
}

// Matches evaluates the filter predicate against a single task.
func (q Query) Matches(t Task) bool {
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			return false
		}
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Priority != "" && t.Priority != q.Priority {
		return false
	}
	for _, tag := range q.Tags {
		if !t.hasTag(tag) {
			return false
		}
	}
	if q.DueFrom != nil || q.DueTo != nil {
		// A task without a due date never matches a bounded range.
		if t.DueDate == nil {
			return false
		}
		if q.DueFrom != nil && t.DueDate.Before(*q.DueFrom) {
			return false
		}
		if q.DueTo != nil && t.DueDate.After(*q.DueTo) {
			return false
		}
	}
	return true
}

// Evaluate filters, sorts and paginates the given snapshot. Total always
// reflects the full filtered count, independent of the page slice.
func (q Query) Evaluate(snapshot []Task) QueryResult {
	matched := make([]Task, 0, len(snapshot))
	for _, t := range snapshot {
		if q.Matches(t) {
			matched = append(matched, t)
		}
	}
	sortTasks(matched, q.SortBy, q.SortOrder)

	total := len(matched)
	start := (q.Page - 1) * q.PageSize
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	page := make([]Task, end-start)
	copy(page, matched[start:end])

	return QueryResult{Tasks: page, Total: total, Page: q.Page, PageSize: q.PageSize}
}

// sortTasks orders tasks by the given key. Ties always break by id ascending
// so identical queries return identical orderings. Tasks without a due date
// sort last regardless of direction when sorting by due date.
func sortTasks(tasks []Task, key SortKey, order SortOrder) {
	desc := order == SortDesc
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if c := compareTasks(a, b, key, desc); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
}

func compareTasks(a, b Task, key SortKey, desc bool) int {
	var c int
	switch key {
	case SortByDueDate:
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return 0
		case a.DueDate == nil:
			return 1
		case b.DueDate == nil:
			return -1
		default:
			c = a.DueDate.Compare(*b.DueDate)
		}
	case SortByPriority:
		c = priorityRank[a.Priority] - priorityRank[b.Priority]
	case SortByTitle:
		c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	default:
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if desc {
		c = -c
	}
	return c
}
