// Package dispatch holds the command table and the error taxonomy the core
// surfaces to clients, plus a bounded worker pool for continuations that
// must not run inline on a connection's own task.
package dispatch

import "fmt"

// Kind is the RESP3 error-code prefix a Err carries.
type Kind string

const (
	KindWrongType Kind = "WRONGTYPE"
	KindNoAuth    Kind = "NOAUTH"
	KindWrongPass Kind = "WRONGPASS"
	KindNoPerm    Kind = "NOPERM"
	KindOOM       Kind = "OOM"
	KindSyntax    Kind = "SYNTAX"
	KindArg       Kind = "ARG"
	KindScript    Kind = "SCRIPT"
	KindBusy      Kind = "BUSY"
	KindNotFound  Kind = "NOTFOUND"
	KindIO        Kind = "IO"
)

// Err is the error type every command handler returns; it carries enough
// structure for the encoder to produce a RESP3 error reply of the form
// "<KIND> <message>" without the handler ever touching resp directly.
type Err struct {
	Kind    Kind
	Message string
}

func (e *Err) Error() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Message)
}

func NewErr(kind Kind, format string, args ...interface{}) *Err {
	return &Err{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrongType() *Err {
	return &Err{Kind: KindWrongType, Message: "Operation against a key holding the wrong kind of value"}
}

func NoAuth() *Err {
	return &Err{Kind: KindNoAuth, Message: "Authentication required"}
}

func WrongPass() *Err {
	return &Err{Kind: KindWrongPass, Message: "invalid username-password pair or user is disabled"}
}

func NoPerm(detail string) *Err {
	return &Err{Kind: KindNoPerm, Message: detail}
}

func OOM() *Err {
	return &Err{Kind: KindOOM, Message: "command not allowed when used memory > 'maxmemory'"}
}

func SyntaxErr() *Err {
	return &Err{Kind: KindSyntax, Message: "syntax error"}
}

func ArgErr(command string) *Err {
	return &Err{Kind: KindArg, Message: fmt.Sprintf("wrong number of arguments for '%s' command", command)}
}

func ScriptErr(detail string) *Err {
	return &Err{Kind: KindScript, Message: detail}
}

func NotFound(detail string) *Err {
	return &Err{Kind: KindNotFound, Message: detail}
}

func IOErr(detail string) *Err {
	return &Err{Kind: KindIO, Message: detail}
}

// AsErr unwraps err into a *Err if possible, so handlers that bubble a
// generic error up through several layers still encode as a typed reply.
func AsErr(err error) (*Err, bool) {
	e, ok := err.(*Err)
	return e, ok
}
