// Package report builds dashboard rollups. Sections degrade independently:
// a failed or timed-out sub-query logs and leaves its zero value, and the
// report as a whole succeeds whenever the store is reachable at all.
package report

import (
	"context"
	"log"
	"time"

	"servicehours/internal/participation"
)

// Store is the read-only query surface the engine aggregates over.
type Store interface {
	Ping(ctx context.Context) error
	CountUsers(ctx context.Context) (int, error)
	CountEvents(ctx context.Context) (int, error)
	CountAttendance(ctx context.Context) (int, error)
	CountMessages(ctx context.Context) (int, error)
	CountApprovedAttendance(ctx context.Context) (int, error)
	CountUsersByRole(ctx context.Context) (map[participation.Role]int, error)
	CountEventsByStatus(ctx context.Context) (map[participation.EventStatus]int, error)
	TotalApprovedHours(ctx context.Context) (float64, error)
	CountEventsSince(ctx context.Context, t time.Time) (int, error)
	CountUsersSince(ctx context.Context, t time.Time) (int, error)
	EventsPerDay(ctx context.Context, t time.Time) (map[string]int, error)
	UsersPerDay(ctx context.Context, t time.Time) (map[string]int, error)
	DepartmentRollup(ctx context.Context) ([]participation.CohortStat, error)
	YearRollup(ctx context.Context) ([]participation.CohortStat, error)
	CompletedUsers(ctx context.Context, threshold float64) ([]participation.CompletedUser, error)
}

// TrendPoint is one day of the activity trend.
type TrendPoint struct {
	Date      string `json:"date"`
	NewEvents int    `json:"new_events"`
	NewUsers  int    `json:"new_users"`
}

// Report is the transient dashboard value object. Never persisted; always
// recomputed, so it cannot go stale.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	TotalUsers      int `json:"total_users"`
	TotalEvents     int `json:"total_events"`
	TotalAttendance int `json:"total_attendance"`
	TotalMessages   int `json:"total_messages"`

	Students int `json:"students"`
	Staff    int `json:"staff"`
	Admins   int `json:"admins"`

	ActiveEvents       int     `json:"active_events"`
	CompletedEvents    int     `json:"completed_events"`
	ApprovedAttendance int     `json:"approved_attendance"`
	TotalHours         float64 `json:"total_hours"`

	EventsLast30Days int `json:"events_last_30_days"`
	UsersLast30Days  int `json:"users_last_30_days"`

	DailyTrend []TrendPoint `json:"daily_trend"`

	DepartmentRollup []participation.CohortStat    `json:"department_rollup"`
	YearRollup       []participation.CohortStat    `json:"year_rollup"`
	CompletedRoster  []participation.CompletedUser `json:"completed_roster"`
}

// Engine computes reports. It never mutates the store.
type Engine struct {
	store          Store
	threshold      float64
	sectionTimeout time.Duration
	now            func() time.Time
}

// NewEngine creates a report engine. sectionTimeout bounds each sub-query
// independently; zero means 5s.
func NewEngine(store Store, threshold float64, sectionTimeout time.Duration) *Engine {
	if threshold <= 0 {
		threshold = participation.DefaultCompletionHours
	}
	if sectionTimeout <= 0 {
		sectionTimeout = 5 * time.Second
	}
	return &Engine{store: store, threshold: threshold, sectionTimeout: sectionTimeout, now: time.Now}
}

// section is one independently-failing computation unit.
type section struct {
	name string
	run  func(ctx context.Context) error
}

// BuildReport assembles the dashboard. Only total store unreachability is
// an error; any single section failure is logged and its field left at the
// zero value.
func (e *Engine) BuildReport(ctx context.Context) (*Report, error) {
	if err := e.store.Ping(ctx); err != nil {
		return nil, participation.ErrStoreUnavailable
	}

	now := e.now().UTC()
	r := &Report{GeneratedAt: now}

	sections := []section{
		{"totals", func(ctx context.Context) error { return e.totals(ctx, r) }},
		{"roles", func(ctx context.Context) error { return e.roles(ctx, r) }},
		{"event_status", func(ctx context.Context) error { return e.eventStatus(ctx, r) }},
		{"accrual", func(ctx context.Context) error { return e.accrual(ctx, r) }},
		{"recency", func(ctx context.Context) error { return e.recency(ctx, r, now) }},
		{"daily_trend", func(ctx context.Context) error { return e.dailyTrend(ctx, r, now) }},
		{"department_rollup", func(ctx context.Context) error { return e.departmentRollup(ctx, r) }},
		{"year_rollup", func(ctx context.Context) error { return e.yearRollup(ctx, r) }},
		{"completed_roster", func(ctx context.Context) error { return e.completedRoster(ctx, r) }},
	}
	for _, s := range sections {
		sctx, cancel := context.WithTimeout(ctx, e.sectionTimeout)
		if err := s.run(sctx); err != nil {
			log.Printf("report section %s degraded: %v", s.name, err)
		}
		cancel()
	}
	if r.DailyTrend == nil {
		r.DailyTrend = zeroTrend(now)
	}
	return r, nil
}

func (e *Engine) totals(ctx context.Context, r *Report) error {
	var err error
	if r.TotalUsers, err = e.store.CountUsers(ctx); err != nil {
		return err
	}
	if r.TotalEvents, err = e.store.CountEvents(ctx); err != nil {
		return err
	}
	if r.TotalAttendance, err = e.store.CountAttendance(ctx); err != nil {
		return err
	}
	r.TotalMessages, err = e.store.CountMessages(ctx)
	return err
}

func (e *Engine) roles(ctx context.Context, r *Report) error {
	counts, err := e.store.CountUsersByRole(ctx)
	if err != nil {
		return err
	}
	r.Students = counts[participation.RoleStudent]
	r.Staff = counts[participation.RoleStaff]
	r.Admins = counts[participation.RoleAdmin]
	return nil
}

func (e *Engine) eventStatus(ctx context.Context, r *Report) error {
	counts, err := e.store.CountEventsByStatus(ctx)
	if err != nil {
		return err
	}
	r.ActiveEvents = counts[participation.EventActive]
	r.CompletedEvents = counts[participation.EventCompleted]
	return nil
}

func (e *Engine) accrual(ctx context.Context, r *Report) error {
	var err error
	if r.ApprovedAttendance, err = e.store.CountApprovedAttendance(ctx); err != nil {
		return err
	}
	r.TotalHours, err = e.store.TotalApprovedHours(ctx)
	return err
}

func (e *Engine) recency(ctx context.Context, r *Report, now time.Time) error {
	since := now.AddDate(0, 0, -30)
	var err error
	if r.EventsLast30Days, err = e.store.CountEventsSince(ctx, since); err != nil {
		return err
	}
	r.UsersLast30Days, err = e.store.CountUsersSince(ctx, since)
	return err
}

// dailyTrend covers the trailing 7 calendar days including today, with
// missing days zero-filled.
func (e *Engine) dailyTrend(ctx context.Context, r *Report, now time.Time) error {
	from := now.AddDate(0, 0, -6).Truncate(24 * time.Hour)
	events, err := e.store.EventsPerDay(ctx, from)
	if err != nil {
		return err
	}
	users, err := e.store.UsersPerDay(ctx, from)
	if err != nil {
		return err
	}
	trend := zeroTrend(now)
	for i := range trend {
		trend[i].NewEvents = events[trend[i].Date]
		trend[i].NewUsers = users[trend[i].Date]
	}
	r.DailyTrend = trend
	return nil
}

func (e *Engine) departmentRollup(ctx context.Context, r *Report) error {
	stats, err := e.store.DepartmentRollup(ctx)
	if err != nil {
		return err
	}
	r.DepartmentRollup = stats
	return nil
}

func (e *Engine) yearRollup(ctx context.Context, r *Report) error {
	stats, err := e.store.YearRollup(ctx)
	if err != nil {
		return err
	}
	r.YearRollup = stats
	return nil
}

func (e *Engine) completedRoster(ctx context.Context, r *Report) error {
	roster, err := e.store.CompletedUsers(ctx, e.threshold)
	if err != nil {
		return err
	}
	r.CompletedRoster = roster
	return nil
}

func zeroTrend(now time.Time) []TrendPoint {
	trend := make([]TrendPoint, 7)
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, i-6)
		trend[i] = TrendPoint{Date: day.Format("2006-01-02")}
	}
	return trend
}
