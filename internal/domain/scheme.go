package domain

import (
	"time"

	"github.com/google/uuid"
)

// SchemeName identifies a government benefit scheme in the eligibility catalog.
type SchemeName string

const (
	SchemePMJanDhan     SchemeName = "PM_JAN_DHAN"
	SchemePMJJBY        SchemeName = "PMJJBY"
	SchemePMSBY         SchemeName = "PMSBY"
	SchemePMMudraShishu SchemeName = "PM_MUDRA_SHISHU"
	SchemePMSvanidhi    SchemeName = "PM_SVANIDHI"
	SchemeNABARDLinkage SchemeName = "NABARD_LINKAGE"
)

// SchemeEligibility is the stored eligibility of one member for one scheme.
// Notified moves false->true at most once, and only when eligibility is gained.
type SchemeEligibility struct {
	ID         uuid.UUID  `json:"id"`
	MemberID   uuid.UUID  `json:"member_id"`
	SchemeName SchemeName `json:"scheme_name"`
	IsEligible bool       `json:"is_eligible"`
	Notified   bool       `json:"notified"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
