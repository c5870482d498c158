package acl

import (
	"testing"

	"github.com/emberkv/emberkv/config"
	"github.com/emberkv/emberkv/dispatch"
)

func TestFromConfigRuleConvertsPatternsAndCategories(t *testing.T) {
	cfg := config.ACLRule{
		Enable:               true,
		DenyWriteKeyPatterns: []string{"^bar"},
		AllowCategory:        []string{"string"},
	}
	r := FromConfigRule("scenario4", cfg)

	if !r.Enabled {
		t.Fatal("expected rule to be enabled")
	}
	if len(r.AllowCategory) != 1 || r.AllowCategory[0] != dispatch.CategoryString {
		t.Fatalf("expected category string, got %v", r.AllowCategory)
	}
	if err := r.CheckKey("bar1", true); err == nil {
		t.Fatal("expected bar1 write to be denied")
	}
}
