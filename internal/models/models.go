package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AmbassadorRole is the relationship of an ambassador to the school.
type AmbassadorRole string

const (
	RoleStaff  AmbassadorRole = "Staff"
	RoleParent AmbassadorRole = "Parent"
	RoleAlumni AmbassadorRole = "Alumni"
)

// BenefitStatus is Active while the ambassador has at least one confirmed referral.
type BenefitStatus string

const (
	BenefitActive   BenefitStatus = "Active"
	BenefitInactive BenefitStatus = "Inactive"
)

// LeadStatus is the position of a referral lead in the pipeline.
type LeadStatus string

const (
	LeadNew       LeadStatus = "New"
	LeadFollowUp  LeadStatus = "Follow-up"
	LeadConfirmed LeadStatus = "Confirmed"
)

// SettlementStatus tracks a payout request.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "Pending"
	SettlementProcessed SettlementStatus = "Processed"
)

// Ambassador refers prospective students and earns benefits for confirmed referrals.
type Ambassador struct {
	ID                     int64           `json:"id"`
	Mobile                 string          `json:"mobile"`
	Name                   string          `json:"name"`
	Role                   AmbassadorRole  `json:"role"`
	CampusID               *int64          `json:"campus_id,omitempty"`
	ConfirmedReferralCount int             `json:"confirmed_referral_count"`
	YearFeeBenefitPercent  float64         `json:"year_fee_benefit_percent"`
	LongTermBenefitPercent float64         `json:"long_term_benefit_percent"`
	IsFiveStarMember       bool            `json:"is_five_star_member"`
	StudentFee             decimal.Decimal `json:"student_fee"`
	BenefitStatus          BenefitStatus   `json:"benefit_status"`
	LastActiveYear         int             `json:"last_active_year"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// BenefitSlab maps a referral-count threshold to benefit percentages.
type BenefitSlab struct {
	ID                    int64   `json:"id"`
	ReferralCount         int     `json:"referral_count"`
	YearFeeBenefitPercent float64 `json:"year_fee_benefit_percent"`
	LongTermExtraPercent  float64 `json:"long_term_extra_percent"`
	BaseLongTermPercent   float64 `json:"base_long_term_percent"`
}

// Lead is a prospective student referred by an ambassador.
type Lead struct {
	ID            int64      `json:"id"`
	AmbassadorID  int64      `json:"ambassador_id"`
	CampusID      *int64     `json:"campus_id,omitempty"`
	StudentName   string     `json:"student_name"`
	ParentMobile  string     `json:"parent_mobile"`
	Grade         string     `json:"grade"`
	LeadStatus    LeadStatus `json:"lead_status"`
	ConfirmedDate *time.Time `json:"confirmed_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Settlement is a payout of earned benefit to an ambassador.
type Settlement struct {
	ID            int64            `json:"id"`
	AmbassadorID  int64            `json:"ambassador_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        SettlementStatus `json:"status"`
	BankReference string           `json:"bank_reference,omitempty"`
	PayoutDate    *time.Time       `json:"payout_date,omitempty"`
	Remarks       string           `json:"remarks,omitempty"`
	CreatedBy     string           `json:"created_by"`
	ProcessedBy   string           `json:"processed_by,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ActivityLog is an immutable audit record of a state-changing operation.
type ActivityLog struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actor_id"`
	ActorName string          `json:"actor_name"`
	ActorRole string          `json:"actor_role"`
	Action    string          `json:"action"`
	Module    string          `json:"module"`
	TargetID  string          `json:"target_id"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// Campus is a school branch.
type Campus struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	City     string `json:"city"`
	IsActive bool   `json:"is_active"`
}

// ConfirmResult is returned by lead confirmation.
type ConfirmResult struct {
	LeadID            int64             `json:"lead_id"`
	LeadStatus        LeadStatus        `json:"lead_status"`
	ConfirmedDate     *time.Time        `json:"confirmed_date,omitempty"`
	AlreadyConfirmed  bool              `json:"already_confirmed"`
	AmbassadorBenefit AmbassadorBenefit `json:"ambassador_benefit"`
}

// AmbassadorBenefit is the derived benefit state of an ambassador.
type AmbassadorBenefit struct {
	AmbassadorID           int64         `json:"ambassador_id"`
	ConfirmedReferralCount int           `json:"confirmed_referral_count"`
	YearFeeBenefitPercent  float64       `json:"year_fee_benefit_percent"`
	LongTermBenefitPercent float64       `json:"long_term_benefit_percent"`
	IsFiveStarMember       bool          `json:"is_five_star_member"`
	BenefitStatus          BenefitStatus `json:"benefit_status"`
	LastActiveYear         int           `json:"last_active_year"`
}

// PendingSettlement is the read-only payout computation for an ambassador.
type PendingSettlement struct {
	AmbassadorID     int64           `json:"ambassador_id"`
	Pending          decimal.Decimal `json:"pending"`
	TotalEarned      decimal.Decimal `json:"total_earned"`
	TotalSettled     decimal.Decimal `json:"total_settled"`
	ProcessedTotal   decimal.Decimal `json:"processed_total"`
	PendingRequested decimal.Decimal `json:"pending_requested"`
	BenefitPercent   float64         `json:"benefit_percent"`
	SettledBasis     string          `json:"settled_basis"`
}

// MergeReport summarises a campus merge.
type MergeReport struct {
	SourceCampusID int64            `json:"source_campus_id"`
	TargetCampusID int64            `json:"target_campus_id"`
	Moved          map[string]int64 `json:"moved"`
	Deleted        map[string]int64 `json:"deleted"`
}

// SubmitLeadRequest is the request body for submitting a lead.
type SubmitLeadRequest struct {
	AmbassadorID int64  `json:"ambassador_id"`
	CampusID     *int64 `json:"campus_id,omitempty"`
	StudentName  string `json:"student_name"`
	ParentMobile string `json:"parent_mobile"`
	Grade        string `json:"grade"`
}

// UpdateLeadStatusRequest is the request body for a lead status change.
type UpdateLeadStatusRequest struct {
	Status LeadStatus `json:"status"`
}

// CreateSettlementRequest is the request body for creating a settlement.
type CreateSettlementRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Remarks string          `json:"remarks"`
}

// ProcessSettlementRequest is the request body for processing a settlement.
type ProcessSettlementRequest struct {
	BankReference string     `json:"bank_reference"`
	PayoutDate    *time.Time `json:"payout_date,omitempty"`
	Remarks       *string    `json:"remarks,omitempty"`
}

// MergeCampusRequest is the request body for a campus merge.
type MergeCampusRequest struct {
	TargetCampusID int64 `json:"target_campus_id"`
}

// RenameCampusRequest is the request body for renaming a campus.
type RenameCampusRequest struct {
	Name string `json:"name"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
