package domain

import "time"

// PatternType enumerates the closed set of recurrence variants.
type PatternType string

const (
	RecurDaily   PatternType = "daily"
	RecurWeekly  PatternType = "weekly"
	RecurMonthly PatternType = "monthly"
	RecurCustom  PatternType = "custom"
)

// RecurrencePattern is a tagged variant; only the fields of the selected
// variant are meaningful. Weekday numbering follows time.Weekday (Sunday=0),
// matching the dashboard client.
type RecurrencePattern struct {
	Type         PatternType    `json:"type"`
	DaysOfWeek   []time.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth   int            `json:"day_of_month,omitempty"`
	IntervalDays int            `json:"interval_days,omitempty"`
}

// Validate checks the variant-specific constraints.
func (p *RecurrencePattern) Validate() error {
	switch p.Type {
	case RecurDaily:
		return nil
	case RecurWeekly:
		if len(p.DaysOfWeek) == 0 {
			return &PatternError{Field: "days_of_week", Reason: "must not be empty"}
		}
		for _, d := range p.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return &PatternError{Field: "days_of_week", Reason: "must be within 0..6"}
			}
		}
		return nil
	case RecurMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return &PatternError{Field: "day_of_month", Reason: "must be within 1..31"}
		}
		return nil
	case RecurCustom:
		if p.IntervalDays < 1 {
			return &PatternError{Field: "interval_days", Reason: "must be at least 1"}
		}
		return nil
	default:
		return &PatternError{Field: "type", Reason: "unknown variant"}
	}
}

// NextOccurrence returns the due date of the occurrence following from. It is
// the single dispatch point over the pattern variants. Only the calendar date
// advances; time of day and timezone of from are preserved.
func NextOccurrence(p *RecurrencePattern, from time.Time) (time.Time, error) {
	if p == nil {
		return time.Time{}, &PatternError{Field: "type", Reason: "missing"}
	}
	if err := p.Validate(); err != nil {
		return time.Time{}, err
	}
	switch p.Type {
	case RecurDaily:
		return from.AddDate(0, 0, 1), nil
	case RecurWeekly:
		// At most seven steps: the earliest date strictly after from whose
		// weekday is in the set, wrapping to the following week.
		for offset := 1; offset <= 7; offset++ {
			cand := from.AddDate(0, 0, offset)
			for _, d := range p.DaysOfWeek {
				if cand.Weekday() == d {
					return cand, nil
				}
			}
		}
		return time.Time{}, &PatternError{Field: "days_of_week", Reason: "has no reachable day"}
	case RecurMonthly:
		year, month := from.Year(), from.Month()+1
		if month > time.December {
			month = time.January
			year++
		}
		day := p.DayOfMonth
		if last := lastDayOfMonth(year, month); day > last {
			day = last
		}
		return time.Date(year, month, day,
			from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location()), nil
	case RecurCustom:
		return from.AddDate(0, 0, p.IntervalDays), nil
	}
	return time.Time{}, &PatternError{Field: "type", Reason: "unknown variant"}
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day zero of the following month normalizes to the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
