package models

import "time"

// CodeStatus represents the lifecycle state of a registration code.
type CodeStatus string

const (
	CodeStatusActive CodeStatus = "ACTIVE"
	CodeStatusUsed   CodeStatus = "USED"
)

// RegistrationCode is a single-use access token stored in registration_codes.
// used_by and used_at are set together on redemption and never cleared.
type RegistrationCode struct {
	ID        string     `db:"id" json:"id"`
	Code      string     `db:"code" json:"code"`
	GroupName string     `db:"group_name" json:"group_name"`
	CreatedBy string     `db:"created_by" json:"created_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Status    CodeStatus `db:"status" json:"status"`
	UsedBy    *string    `db:"used_by" json:"used_by,omitempty"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}

// CodeFilter captures filtering criteria for listing codes. CreatedBy,
// when non-empty, restricts results to a single creator (teacher-role
// visibility); empty means unrestricted (admin visibility).
type CodeFilter struct {
	GroupName string
	Status    CodeStatus
	CreatedBy string
	Page      int
	PageSize  int
}

// CodeExportRow is a code joined with creator/redeemer display names for
// tabular exports.
type CodeExportRow struct {
	Code          string     `db:"code"`
	GroupName     string     `db:"group_name"`
	CreatedByName string     `db:"created_by_name"`
	CreatedAt     time.Time  `db:"created_at"`
	Status        CodeStatus `db:"status"`
	UsedByName    *string    `db:"used_by_name"`
	UsedAt        *time.Time `db:"used_at"`
}
