package acl

import (
	"github.com/emberkv/emberkv/config"
	"github.com/emberkv/emberkv/dispatch"
)

// FromConfigRule converts a config.ACLRule (security.default_ac or one
// security.acl.<user> entry) into the Rule shape CheckCommand/CheckKey/
// CheckChannel operate on. The password field is already a bcrypt hash by
// the time it reaches here (config.Manager stores only hashes, never
// plaintext).
func FromConfigRule(name string, cfg config.ACLRule) *Rule {
	r := &Rule{
		Name:                  name,
		Enabled:               cfg.Enable,
		PasswordHash:          []byte(cfg.Password),
		AllowCommands:         cfg.AllowCommands,
		DenyCommands:          cfg.DenyCommands,
		AllowCategory:         toCategories(cfg.AllowCategory),
		DenyCategory:          toCategories(cfg.DenyCategory),
		AllowReadKeyPatterns:  cfg.AllowKeyPatterns,
		DenyReadKeyPatterns:   cfg.DenyKeyPatterns,
		AllowWriteKeyPatterns: cfg.AllowWriteKeyPatterns,
		DenyWriteKeyPatterns:  cfg.DenyWriteKeyPatterns,
		AllowChannelPatterns:  cfg.AllowChannelPatterns,
		DenyChannelPatterns:   cfg.DenyChannelPatterns,
	}
	return r
}

func toCategories(names []string) []dispatch.Category {
	out := make([]dispatch.Category, len(names))
	for i, n := range names {
		out[i] = dispatch.Category(n)
	}
	return out
}
