package types

import (
	"strings"
	"testing"
)

func TestValidateNamespace(t *testing.T) {
	cases := []struct {
		name    string
		ns      string
		wantErr bool
	}{
		{"org_scope", "acme/research", false},
		{"org_scope_entity", "acme/research/llm-agents", false},
		{"deep_hierarchy", "acme/a/b/c/d/e/f/g", false},
		{"underscores_and_dashes", "acme/data_eng/etl-jobs", false},
		{"digits", "org1/scope2", false},
		{"empty", "", true},
		{"single_segment", "acme", true},
		{"uppercase", "Acme/research", true},
		{"leading_dash", "acme/-research", true},
		{"empty_segment", "acme//research", true},
		{"trailing_slash", "acme/research/", true},
		{"spaces", "acme/re search", true},
		{"too_many_segments", "a/b/c/d/e/f/g/h/i", true},
		{"too_long", "acme/" + strings.Repeat("x", 260), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateNamespace(tc.ns)
			if tc.wantErr && err == nil {
				t.Errorf("ValidateNamespace(%q): expected error, got nil", tc.ns)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("ValidateNamespace(%q): unexpected error: %v", tc.ns, err)
			}
		})
	}
}

func TestNamespaceOrg(t *testing.T) {
	if got := NamespaceOrg("acme/research/agents"); got != "acme" {
		t.Errorf("NamespaceOrg: expected %q, got %q", "acme", got)
	}
	if got := NamespaceOrg("no-slash"); got != "" {
		t.Errorf("NamespaceOrg on malformed input: expected empty, got %q", got)
	}
}

func TestClampRanges(t *testing.T) {
	e := &MemoryEntry{Confidence: 1.7, Reputation: 140, UsageCount: -3, ValidationCount: -1}
	e.Clamp()

	if e.Confidence != 1.0 {
		t.Errorf("confidence not clamped: %f", e.Confidence)
	}
	if e.Reputation != 100 {
		t.Errorf("reputation not clamped: %f", e.Reputation)
	}
	if e.UsageCount != 0 || e.ValidationCount != 0 {
		t.Errorf("counters not clamped: usage=%d validations=%d", e.UsageCount, e.ValidationCount)
	}

	e = &MemoryEntry{Confidence: -0.2, Reputation: -5}
	e.Clamp()
	if e.Confidence != 0 || e.Reputation != 0 {
		t.Errorf("lower bounds not clamped: confidence=%f reputation=%f", e.Confidence, e.Reputation)
	}
}

func TestConflictTerminal(t *testing.T) {
	for status, terminal := range map[ConflictStatus]bool{
		ConflictPending:  false,
		ConflictQueued:   false,
		ConflictResolved: true,
		ConflictIgnored:  true,
	} {
		c := &MemoryConflict{Status: status}
		if c.Terminal() != terminal {
			t.Errorf("Terminal(%s): expected %v", status, terminal)
		}
	}
}

func TestValidRelationType(t *testing.T) {
	for _, rt := range AllRelationTypes {
		if !ValidRelationType(rt) {
			t.Errorf("expected %s to be valid", rt)
		}
	}
	if ValidRelationType(RelNone) {
		t.Error("NONE must not be a persistable relation type")
	}
	if ValidRelationType("FRIENDS_WITH") {
		t.Error("unknown relation type must be invalid")
	}
}
