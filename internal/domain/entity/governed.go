package entity

import "time"

// EntitySummary is the display view of a governed entity (EOI, requisition,
// vendor submission) used by dashboards.
type EntitySummary struct {
	Ref                 EntityRef    `json:"ref"`
	Title               string       `json:"title"`
	Budget              float64      `json:"budget"`
	Deadline            *time.Time   `json:"deadline,omitempty"`
	Status              EntityStatus `json:"status"`
	CurrentApprovalStep *string      `json:"current_approval_step,omitempty"`
}

// User is an entry of the user/role directory.
type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	LarkOpenID string `json:"-"`
}
