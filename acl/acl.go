// Package acl enforces per-connection authorization: command and category
// allow/deny lists, key-pattern allow/deny lists split by read/write, and
// channel-pattern allow/deny for pub/sub — the same permission-tag shape the
// teacher's RBAC middleware checks, redesigned around regular-expression
// patterns instead of "resource:action" tags since the wire protocol has no
// concept of a resource type, only keys and channels.
package acl

import (
	"regexp"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/emberkv/emberkv/dispatch"
)

// Rule is one user's (or the default) access-control profile, mirroring
// spec.md §6's security.default_ac / security.acl.<user> schema.
type Rule struct {
	Name         string
	Enabled      bool
	PasswordHash []byte // bcrypt hash; empty means no password required

	AllowCommands []string
	DenyCommands  []string
	AllowCategory []dispatch.Category
	DenyCategory  []dispatch.Category

	AllowReadKeyPatterns  []string
	DenyReadKeyPatterns   []string
	AllowWriteKeyPatterns []string
	DenyWriteKeyPatterns  []string

	AllowChannelPatterns []string
	DenyChannelPatterns  []string
}

// NewRule returns a permissive default profile: everything allowed, no
// password. Callers narrow it via the Deny*/Allow* fields as config dictates.
func NewRule(name string) *Rule {
	return &Rule{Name: name, Enabled: true}
}

// HashPassword bcrypt-hashes a plaintext password for storage in a Rule,
// same cost the teacher uses for SecurityUser credentials.
func HashPassword(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
}

// CheckPassword reports whether plaintext matches the rule's stored hash.
// A rule with no password hash accepts any password (AUTH is a no-op check).
func (r *Rule) CheckPassword(plaintext string) bool {
	if len(r.PasswordHash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(r.PasswordHash, []byte(plaintext)) == nil
}

// CheckCommand reports whether the rule permits running cmd. Deny lists take
// precedence over allow lists at the same granularity (command beats
// category), matching the teacher's admin-override-then-explicit-deny
// ordering in RBACMiddleware.
func (r *Rule) CheckCommand(cmd *dispatch.Command) *dispatch.Err {
	if !r.Enabled {
		return dispatch.NoPerm("this user is disabled")
	}
	if containsString(r.DenyCommands, cmd.Name) {
		return dispatch.NoPerm("this user has no permissions to run the '" + cmd.Name + "' command")
	}
	if containsCategory(r.DenyCategory, cmd.Category) {
		return dispatch.NoPerm("this user has no permissions to run commands in the '" + string(cmd.Category) + "' category")
	}
	if len(r.AllowCommands) == 0 && len(r.AllowCategory) == 0 {
		return nil // no allow-list configured: default allow, subject to deny above
	}
	if containsString(r.AllowCommands, cmd.Name) {
		return nil
	}
	if containsCategory(r.AllowCategory, cmd.Category) {
		return nil
	}
	return dispatch.NoPerm("this user has no permissions to run the '" + cmd.Name + "' command")
}

// CheckKey reports whether the rule permits the given access on key.
func (r *Rule) CheckKey(key string, write bool) *dispatch.Err {
	allow, deny := r.AllowReadKeyPatterns, r.DenyReadKeyPatterns
	if write {
		allow, deny = r.AllowWriteKeyPatterns, r.DenyWriteKeyPatterns
	}
	if matchesAny(deny, key) {
		return dispatch.NoPerm("no permissions to access key '" + key + "'")
	}
	if len(allow) == 0 {
		return nil
	}
	if matchesAny(allow, key) {
		return nil
	}
	return dispatch.NoPerm("no permissions to access key '" + key + "'")
}

// CheckChannel reports whether the rule permits publishing or subscribing to
// channel.
func (r *Rule) CheckChannel(channel string) *dispatch.Err {
	if matchesAny(r.DenyChannelPatterns, channel) {
		return dispatch.NoPerm("no permissions to access channel '" + channel + "'")
	}
	if len(r.AllowChannelPatterns) == 0 {
		return nil
	}
	if matchesAny(r.AllowChannelPatterns, channel) {
		return nil
	}
	return dispatch.NoPerm("no permissions to access channel '" + channel + "'")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsCategory(list []dispatch.Category, c dispatch.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

// patternCache memoizes compiled regexes; key/channel ACL patterns are
// regex fragments (e.g. "^bar"), not pubsub-style globs — the teacher
// reaches for stdlib regexp for this kind of tag/pattern validation
// (models/entity_uuid.go, models/retention_policy.go), so ACL pattern
// matching follows the same convention rather than inventing a second glob
// dialect alongside pubsub's.
var (
	patternCacheMu sync.Mutex
	patternCache   = map[string]*regexp.Regexp{}
)

func compilePattern(pattern string) *regexp.Regexp {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// An unparsable pattern never matches rather than panicking a
		// connection's command path.
		re = regexp.MustCompile(`\x00unmatchable\x00`)
	}
	patternCache[pattern] = re
	return re
}

func matchesAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if compilePattern(p).MatchString(s) {
			return true
		}
	}
	return false
}
