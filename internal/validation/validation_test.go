package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ambassador-ledger/internal/models"
)

func TestValidateSubmitLead(t *testing.T) {
	valid := models.SubmitLeadRequest{
		AmbassadorID: 1,
		StudentName:  "Asha",
		ParentMobile: "+919876543210",
		Grade:        "5",
	}

	tests := []struct {
		name      string
		mutate    func(r *models.SubmitLeadRequest)
		wantField string
	}{
		{"valid", func(r *models.SubmitLeadRequest) {}, ""},
		{"missing ambassador", func(r *models.SubmitLeadRequest) { r.AmbassadorID = 0 }, "ambassador_id"},
		{"bad campus", func(r *models.SubmitLeadRequest) { c := int64(-1); r.CampusID = &c }, "campus_id"},
		{"blank name", func(r *models.SubmitLeadRequest) { r.StudentName = "  \x00 " }, "student_name"},
		{"short mobile", func(r *models.SubmitLeadRequest) { r.ParentMobile = "12345" }, "parent_mobile"},
		{"letters in mobile", func(r *models.SubmitLeadRequest) { r.ParentMobile = "98765abcde" }, "parent_mobile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := ValidateSubmitLead(req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("expected field %s, got %s", tt.wantField, verr.Field)
			}
		})
	}
}

func TestValidateSettlementAmount(t *testing.T) {
	tests := []struct {
		amount  string
		wantErr bool
	}{
		{"1", false},
		{"2500.50", false},
		{"0", true},
		{"-10", true},
		{"10.005", true},
		{"10000001", true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := ValidateSettlementAmount(decimal.RequireFromString(tt.amount))
			if (err != nil) != tt.wantErr {
				t.Errorf("amount %s: wantErr=%v, got %v", tt.amount, tt.wantErr, err)
			}
		})
	}
}

func TestValidateLeadStatus(t *testing.T) {
	for _, s := range []models.LeadStatus{models.LeadNew, models.LeadFollowUp, models.LeadConfirmed} {
		if err := ValidateLeadStatus(s); err != nil {
			t.Errorf("status %q rejected: %v", s, err)
		}
	}
	if err := ValidateLeadStatus("Lost"); err == nil {
		t.Error("expected unknown status to be rejected")
	}
	if err := ValidateLeadStatus(""); err == nil {
		t.Error("expected empty status to be rejected")
	}
}

func TestValidateProcessSettlement(t *testing.T) {
	if err := ValidateProcessSettlement(models.ProcessSettlementRequest{BankReference: "UTR-20240601-77"}); err != nil {
		t.Fatalf("expected valid reference, got %v", err)
	}
	if err := ValidateProcessSettlement(models.ProcessSettlementRequest{BankReference: " "}); err == nil {
		t.Error("expected blank reference to be rejected")
	}
	if err := ValidateProcessSettlement(models.ProcessSettlementRequest{BankReference: "abc;drop"}); err == nil {
		t.Error("expected reference with punctuation to be rejected")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x07 world \n"); got != "hello world" {
		t.Errorf("unexpected sanitized value %q", got)
	}
}
