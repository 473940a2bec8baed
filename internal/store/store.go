package store

import (
	"context"
	"errors"
	"time"
)

// Health statuses for a monitor. Pending only appears before the first
// completed probe.
const (
	StatusPending  = "pending"
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Environments select which history-sink deployment receives observations.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// ErrNotFound is returned when a monitor id does not exist.
var ErrNotFound = errors.New("monitor not found")

// Monitor is one row of monitored_links: a URL probed on a cadence plus the
// cached last observation.
type Monitor struct {
	ID           string `json:"id"`
	ConvexURLID  string `json:"convexUrlId"`
	ConvexUserID string `json:"convexUserId"`
	LongURL      string `json:"longUrl"`
	ShortURL     string `json:"shortUrl"`
	Environment  string `json:"environment"`

	IntervalMS           int64      `json:"intervalMs"`
	NextCheckAt          time.Time  `json:"nextCheckAt"`
	SchedulerLockedUntil *time.Time `json:"schedulerLockedUntil,omitempty"`
	IsActive             bool       `json:"isActive"`

	CurrentStatus       string     `json:"currentStatus"`
	LastCheckedAt       *time.Time `json:"lastCheckedAt,omitempty"`
	LastStatusCode      *int       `json:"lastStatusCode,omitempty"`
	LastLatencyMS       *int64     `json:"lastLatencyMs,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProbeOutcome is what the state sink persists after one probe.
type ProbeOutcome struct {
	Status     string
	StatusCode int
	LatencyMS  int64
	IsHealthy  bool
}

// Store is the persistence boundary for monitors. Postgres in production,
// MemoryStore in tests.
type Store interface {
	// CreateMonitor inserts the monitor, idempotent on convex_url_id.
	// Returns false when a row with the same convex_url_id already exists;
	// the existing row is left untouched.
	CreateMonitor(ctx context.Context, m *Monitor) (bool, error)

	// GetMonitor returns the monitor by id or ErrNotFound.
	GetMonitor(ctx context.Context, id string) (*Monitor, error)

	// DeactivateMonitor soft-deletes (is_active = false) or ErrNotFound.
	DeactivateMonitor(ctx context.Context, id string) error

	// SelectDueMonitors returns up to limit eligible monitors: active, due,
	// and not lease-locked, ordered by next_check_at then id.
	SelectDueMonitors(ctx context.Context, now time.Time, limit int) ([]*Monitor, error)

	// ClaimMonitor atomically takes the scheduling lease: it re-checks
	// eligibility and sets next_check_at and scheduler_locked_until in one
	// statement. Returns false when the row was claimed by another replica
	// or deactivated since selection.
	ClaimMonitor(ctx context.Context, id string, nextCheckAt, lockedUntil time.Time) (bool, error)

	// ReleaseClaim undoes a claim after a failed enqueue: clears the lease
	// and makes the monitor due again at nextCheckAt.
	ReleaseClaim(ctx context.Context, id string, nextCheckAt time.Time) error

	// RecordProbeResult applies one probe observation: last_* fields,
	// current_status, lease clear, and the consecutive-failures counter
	// (relative increment so concurrent writers compose).
	RecordProbeResult(ctx context.Context, id string, out ProbeOutcome, checkedAt time.Time) error

	// CountActiveMonitors reports how many monitors are active.
	CountActiveMonitors(ctx context.Context) (int, error)
}
