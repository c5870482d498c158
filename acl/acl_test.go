package acl

import (
	"testing"

	"github.com/emberkv/emberkv/dispatch"
)

func TestDefaultRuleAllowsEverything(t *testing.T) {
	r := NewRule("default")
	set, _, _ := dispatch.Lookup([]string{"SET", "k", "v"})
	if err := r.CheckCommand(set); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestDisabledRuleDeniesEverything(t *testing.T) {
	r := NewRule("disabled")
	r.Enabled = false
	ping, _, _ := dispatch.Lookup([]string{"PING"})
	if err := r.CheckCommand(ping); err == nil {
		t.Fatal("expected NOPERM for disabled user")
	}
}

func TestDenyCommandOverridesDefaultAllow(t *testing.T) {
	r := NewRule("limited")
	r.DenyCommands = []string{"FLUSHDB"}
	flushdb, _, _ := dispatch.Lookup([]string{"FLUSHDB"})
	if err := r.CheckCommand(flushdb); err == nil {
		t.Fatal("expected FLUSHDB to be denied")
	}
	ping, _, _ := dispatch.Lookup([]string{"PING"})
	if err := r.CheckCommand(ping); err != nil {
		t.Fatalf("expected PING to remain allowed, got %v", err)
	}
}

func TestAllowListRestrictsToListedCommands(t *testing.T) {
	r := NewRule("restricted")
	r.AllowCommands = []string{"GET"}
	get, _, _ := dispatch.Lookup([]string{"GET", "k"})
	if err := r.CheckCommand(get); err != nil {
		t.Fatalf("expected GET allowed, got %v", err)
	}
	set, _, _ := dispatch.Lookup([]string{"SET", "k", "v"})
	if err := r.CheckCommand(set); err == nil {
		t.Fatal("expected SET to be denied by allow-list")
	}
}

func TestDenyWriteKeyPatternScenario(t *testing.T) {
	r := NewRule("scenario4")
	r.DenyWriteKeyPatterns = []string{"^bar"}

	if err := r.CheckKey("bar1", true); err == nil {
		t.Fatal("expected bar1 write to be denied")
	}
	if err := r.CheckKey("baz", true); err != nil {
		t.Fatalf("expected baz write to be allowed, got %v", err)
	}
}

func TestPasswordHashingRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("unexpected error hashing password: %v", err)
	}
	r := &Rule{Name: "u", Enabled: true, PasswordHash: hash}
	if !r.CheckPassword("s3cret") {
		t.Fatal("expected correct password to verify")
	}
	if r.CheckPassword("wrong") {
		t.Fatal("expected incorrect password to fail verification")
	}
}

func TestChannelPatternDenyTakesPrecedence(t *testing.T) {
	r := NewRule("chan")
	r.AllowChannelPatterns = []string{"^news\\."}
	r.DenyChannelPatterns = []string{"^news\\.internal$"}

	if err := r.CheckChannel("news.internal"); err == nil {
		t.Fatal("expected news.internal to be denied")
	}
	if err := r.CheckChannel("news.sports"); err != nil {
		t.Fatalf("expected news.sports to be allowed, got %v", err)
	}
}
