package ui

import (
	"strings"
	"testing"

	"modcatalog/db"
)

func TestDecision(t *testing.T) {
	yes, no := true, false
	approver := uint(7)
	tests := []struct {
		name string
		p    db.EditProposal
		want string
	}{
		{"pending", db.EditProposal{}, "pending"},
		{"approved", db.EditProposal{Approved: &yes, ApproverID: &approver}, "approved by 7"},
		{"denied", db.EditProposal{Approved: &no, ApproverID: &approver}, "denied by 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decision(tt.p.Decision()); !strings.Contains(got, tt.want) {
				t.Errorf("Decision() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusColor(t *testing.T) {
	if StatusColor(db.StatusVerified) != "10" {
		t.Errorf("StatusColor(verified) = %q", StatusColor(db.StatusVerified))
	}
	if StatusColor("bogus") != "7" {
		t.Errorf("StatusColor(unknown) = %q, want 7", StatusColor("bogus"))
	}
	if got := Status(db.StatusPrivate, 10); !strings.Contains(got, "private   ") {
		t.Errorf("Status() = %q, want padded text", got)
	}
}
