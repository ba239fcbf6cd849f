package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"ambassador-ledger/internal/models"
)

var (
	mobileRegex        = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	bankReferenceRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_-]{3,63}$`)
	idempotencyRegex   = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
)

// MaxSettlementAmount bounds a single payout request.
var MaxSettlementAmount = decimal.NewFromInt(10_000_000)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidationField exposes the offending field to error classifiers.
func (e *ValidationError) ValidationField() string {
	return e.Field
}

func ValidateSubmitLead(req models.SubmitLeadRequest) error {
	if err := ValidateID(req.AmbassadorID, "ambassador_id"); err != nil {
		return err
	}

	if req.CampusID != nil {
		if err := ValidateID(*req.CampusID, "campus_id"); err != nil {
			return err
		}
	}

	name := SanitizeString(req.StudentName)
	if name == "" {
		return &ValidationError{
			Field:   "student_name",
			Message: "is required",
		}
	}

	if len(name) > 200 {
		return &ValidationError{
			Field:   "student_name",
			Message: "cannot exceed 200 characters",
		}
	}

	if err := ValidateMobile(req.ParentMobile, "parent_mobile"); err != nil {
		return err
	}

	if len(SanitizeString(req.Grade)) > 32 {
		return &ValidationError{
			Field:   "grade",
			Message: "cannot exceed 32 characters",
		}
	}

	return nil
}

func ValidateLeadStatus(status models.LeadStatus) error {
	switch status {
	case models.LeadNew, models.LeadFollowUp, models.LeadConfirmed:
		return nil
	case "":
		return &ValidationError{
			Field:   "status",
			Message: "is required",
		}
	default:
		return &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("unknown lead status %q", status),
		}
	}
}

func ValidateSettlementAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{
			Field:   "amount",
			Message: "must be greater than zero",
		}
	}

	if amount.GreaterThan(MaxSettlementAmount) {
		return &ValidationError{
			Field:   "amount",
			Message: "exceeds maximum allowed amount",
		}
	}

	if !amount.Equal(amount.Round(2)) {
		return &ValidationError{
			Field:   "amount",
			Message: "cannot have more than 2 decimal places",
		}
	}

	return nil
}

func ValidateProcessSettlement(req models.ProcessSettlementRequest) error {
	ref := SanitizeString(req.BankReference)
	if ref == "" {
		return &ValidationError{
			Field:   "bank_reference",
			Message: "is required",
		}
	}

	if !bankReferenceRegex.MatchString(ref) {
		return &ValidationError{
			Field:   "bank_reference",
			Message: "must be 4-64 characters of letters, digits, '/', '_' or '-'",
		}
	}

	if req.Remarks != nil && len(*req.Remarks) > 500 {
		return &ValidationError{
			Field:   "remarks",
			Message: "cannot exceed 500 characters",
		}
	}

	return nil
}

func ValidateMobile(mobile, fieldName string) error {
	mobile = SanitizeString(mobile)
	if mobile == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !mobileRegex.MatchString(strings.ReplaceAll(mobile, " ", "")) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be 10-15 digits with an optional leading '+'",
		}
	}

	return nil
}

func ValidateID(id int64, fieldName string) error {
	if id <= 0 {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a positive integer",
		}
	}
	return nil
}

func ValidateIdempotencyKey(key string) error {
	if !idempotencyRegex.MatchString(key) {
		return &ValidationError{
			Field:   "Idempotency-Key",
			Message: "must be 8-128 characters of letters, digits, '_' or '-'",
		}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
