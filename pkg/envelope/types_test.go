package envelope

import (
	"testing"
	"time"
)

func TestEnvelopeValidatePartitionKeyPrefix(t *testing.T) {
	actor := Actor{Tenant: "tenantA", SubjectID: "sub-1"}

	if _, err := New(actor, "tenantA:tools", "1.0.0", "payload"); err != nil {
		t.Fatalf("expected valid partition key to succeed: %v", err)
	}

	if _, err := New(actor, "tenantB:tools", "1.0.0", "payload"); err == nil {
		t.Fatal("expected partition key mismatch to fail validation")
	}
}

func TestSubjectValidateRequiresTenant(t *testing.T) {
	s := Subject{Kind: SubjectUser, SubjectID: "u1"}
	if err := s.Validate(); err == nil {
		t.Fatal("expected empty tenant to fail validation")
	}
	s.Tenant = "tenantA"
	if err := s.Validate(); err != nil {
		t.Fatalf("expected non-empty tenant to validate: %v", err)
	}
}

func TestConsentSupersetAndExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	c := Consent{
		Scopes:    []Scope{{Resource: "r1", Action: "read"}},
		ExpiresAt: &past,
	}

	if !c.Expired(now) {
		t.Error("expected consent to be expired")
	}
	if !c.Superset([]Scope{{Resource: "r1", Action: "read"}}) {
		t.Error("expected exact scope match to be a superset")
	}
	if c.Superset([]Scope{{Resource: "r1", Action: "write"}}) {
		t.Error("expected mismatched action to fail superset check")
	}
}
