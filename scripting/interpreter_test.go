package scripting

import (
	"testing"

	"github.com/emberkv/emberkv/resp"
)

type fakeCaller struct {
	calls [][]string
	reply func(args []string) resp.Value
}

func (f *fakeCaller) Call(args []string) (resp.Value, error) {
	f.calls = append(f.calls, args)
	if f.reply != nil {
		return f.reply(args), nil
	}
	return resp.SimpleString("OK"), nil
}

func TestEvalRunsSequentialCallsAndReturnsLast(t *testing.T) {
	store := map[string]string{}
	caller := &fakeCaller{reply: func(args []string) resp.Value {
		switch args[0] {
		case "SET":
			store[args[1]] = args[2]
			return resp.SimpleString("OK")
		case "GET":
			return resp.BulkString(store[args[1]])
		}
		return resp.Null()
	}}

	it := NewInterpreter()
	script := "redis.call('SET','k','a'); redis.call('SET','k','b'); return redis.call('GET','k')"
	v, err := it.Eval(script, []string{"k"}, nil, caller)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Str != "b" {
		t.Fatalf("expected b, got %q", v.Str)
	}
	if len(caller.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(caller.calls))
	}
}

func TestEvalResolvesKeysAndArgvReferences(t *testing.T) {
	caller := &fakeCaller{}
	it := NewInterpreter()
	_, err := it.Eval("redis.call('SET', KEYS[1], ARGV[1])", []string{"mykey"}, []string{"myval"}, caller)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(caller.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(caller.calls))
	}
	got := caller.calls[0]
	if got[1] != "mykey" || got[2] != "myval" {
		t.Fatalf("expected [SET mykey myval], got %v", got)
	}
}

func TestEvalWithNoReturnYieldsNull(t *testing.T) {
	caller := &fakeCaller{}
	it := NewInterpreter()
	v, err := it.Eval("redis.call('SET','k','v')", nil, nil, caller)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Type != resp.TypeNull {
		t.Fatalf("expected null, got %+v", v)
	}
}

func TestEvalRejectsUnsupportedStatement(t *testing.T) {
	caller := &fakeCaller{}
	it := NewInterpreter()
	_, err := it.Eval("local x = 1", nil, nil, caller)
	if err == nil {
		t.Fatal("expected an error for an unsupported statement")
	}
}

func TestEvalPropagatesCallerError(t *testing.T) {
	caller := &fakeCaller{}
	failing := &erroringCaller{}
	_, err := NewInterpreter().Eval("redis.call('SET','k','v')", nil, nil, failing)
	if err == nil {
		t.Fatal("expected error to propagate from caller")
	}
	_ = caller
}

type erroringCaller struct{}

func (erroringCaller) Call(args []string) (resp.Value, error) {
	return resp.Value{}, errTest
}

var errTest = fakeErr("boom")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
