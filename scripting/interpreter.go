package scripting

import (
	"fmt"
	"strings"
	"text/scanner"

	"github.com/emberkv/emberkv/resp"
)

// call is one parsed `redis.call('A','B',...)` statement; isReturn marks a
// statement written as `return redis.call(...)`.
type call struct {
	args     []string
	isReturn bool
}

// Interpreter is the shipped Engine implementation: statements separated by
// ';', each either `redis.call(...)` or `return redis.call(...)`, with
// string-literal arguments that may reference KEYS[n]/ARGV[n] verbatim.
// Anything else fails to parse; the handler layer wraps the error as a
// dispatch.Err of kind SCRIPT — Interpreter itself just returns a plain error.
type Interpreter struct{}

func NewInterpreter() *Interpreter { return &Interpreter{} }

func (it *Interpreter) Eval(script string, keys []string, argv []string, caller Caller) (resp.Value, error) {
	stmts, err := parseScript(script)
	if err != nil {
		return resp.Value{}, err
	}
	if len(stmts) == 0 {
		return resp.Null(), nil
	}

	var result resp.Value
	for _, st := range stmts {
		resolved := make([]string, len(st.args))
		for i, a := range st.args {
			resolved[i] = resolveToken(a, keys, argv)
		}
		v, err := caller.Call(resolved)
		if err != nil {
			return resp.Value{}, fmt.Errorf("scripting: %w", err)
		}
		if st.isReturn {
			result = v
		}
	}
	if result.Type == 0 {
		return resp.Null(), nil
	}
	return result, nil
}

// resolveToken substitutes KEYS[n]/ARGV[n] references (1-based, matching the
// Lua convention the source's real scripts use) and otherwise passes the
// literal through unchanged.
func resolveToken(tok string, keys, argv []string) string {
	if idx, ok := indexRef(tok, "KEYS["); ok && idx >= 1 && idx <= len(keys) {
		return keys[idx-1]
	}
	if idx, ok := indexRef(tok, "ARGV["); ok && idx >= 1 && idx <= len(argv) {
		return argv[idx-1]
	}
	return tok
}

func indexRef(tok, prefix string) (int, bool) {
	if !strings.HasPrefix(tok, prefix) || !strings.HasSuffix(tok, "]") {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(tok[len(prefix):len(tok)-1], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// parseScript splits script on top-level ';' and parses each statement as
// an optional "return" followed by redis.call(arg, arg, ...).
func parseScript(script string) ([]call, error) {
	var stmts []call
	for _, raw := range splitStatements(script) {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		isReturn := false
		if strings.HasPrefix(s, "return ") {
			isReturn = true
			s = strings.TrimSpace(s[len("return "):])
		}
		args, err := parseCallArgs(s)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, call{args: args, isReturn: isReturn})
	}
	return stmts, nil
}

// splitStatements splits on ';' outside of string literals.
func splitStatements(script string) []string {
	var out []string
	var cur strings.Builder
	inString := false
	var quote rune
	for _, r := range script {
		switch {
		case inString:
			cur.WriteRune(r)
			if r == quote {
				inString = false
			}
		case r == '\'' || r == '"':
			inString = true
			quote = r
			cur.WriteRune(r)
		case r == ';':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, cur.String())
	}
	return out
}

// parseCallArgs parses `redis.call(arg, arg, ...)` using text/scanner to
// tokenize string and bracket-indexed identifier arguments.
func parseCallArgs(stmt string) ([]string, error) {
	const callPrefix = "redis.call("
	stmt = strings.TrimSpace(stmt)
	if !strings.HasPrefix(stmt, callPrefix) || !strings.HasSuffix(stmt, ")") {
		return nil, fmt.Errorf("scripting: unsupported statement %q (only redis.call(...) is supported)", stmt)
	}
	inner := stmt[len(callPrefix) : len(stmt)-1]

	var s scanner.Scanner
	s.Init(strings.NewReader(inner))
	s.Mode = scanner.ScanIdents | scanner.ScanStrings | scanner.ScanRawStrings | scanner.ScanChars | scanner.ScanInts
	// Single-quoted literals scan as Char tokens; a length other than one
	// is reported through Error, which is not a failure here.
	s.Error = func(*scanner.Scanner, string) {}

	var args []string
	var cur strings.Builder
	flush := func() {
		tok := strings.TrimSpace(cur.String())
		if tok != "" {
			args = append(args, tok)
		}
		cur.Reset()
	}

	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		text := s.TokenText()
		switch tok {
		case scanner.String, scanner.RawString, scanner.Char:
			unquoted, err := unquote(text)
			if err != nil {
				return nil, fmt.Errorf("scripting: %w", err)
			}
			args = append(args, unquoted)
		default:
			if text == "," {
				flush()
				continue
			}
			if text == "[" || text == "]" || tok == scanner.Ident || tok == scanner.Int {
				cur.WriteString(text)
				continue
			}
		}
	}
	flush()
	return args, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("malformed string literal %q", s)
	}
	return s[1 : len(s)-1], nil
}
