package models

import "time"

type Settings struct {
	WorkspaceID    string        `db:"workspace_id" json:"workspace_id"`
	PeakHours      []int         `db:"peak_hours" json:"peak_hours"`
	Timezone       string        `db:"timezone" json:"timezone"`
	ConflictWindow time.Duration `db:"conflict_window_minutes" json:"conflict_window"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

type StatsPeriod struct {
	Name string    `json:"name"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls in [From, To). A zero bound is open.
func (p StatsPeriod) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}
