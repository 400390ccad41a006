package models

import "time"

// Severity orders alerts for dispatch filtering.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Alert is a system health notification raised by the health sensor and
// delivered by the alert dispatcher.
type Alert struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Severity       Severity   `gorm:"index" json:"severity"`
	Kind           string     `gorm:"index" json:"kind"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
}
