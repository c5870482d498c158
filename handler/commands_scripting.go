package handler

import (
	"errors"

	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execScripting(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "EVAL":
		return c.cmdEval(rest)
	case "EVALSHA":
		return c.cmdEvalSHA(rest)
	case "SCRIPT REGISTER":
		return c.cmdScriptRegister(rest)
	case "EVALNAME":
		return c.cmdEvalName(rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

// scriptCaller lets a running script invoke ordinary commands on the same
// connection that started the script, so EVAL's redis.call(...) statements
// reuse every ACL/contention/event-firing path a direct command would.
type scriptCaller struct {
	c *Connection
}

func (s scriptCaller) Call(args []string) (resp.Value, error) {
	reply := s.c.handleRequest(args)
	if reply.Type == resp.TypeError {
		return resp.Value{}, errors.New(reply.Str)
	}
	return reply, nil
}

// evalKeysArgv splits EVAL's "script numkeys key [key ...] arg [arg ...]"
// argument shape.
func evalKeysArgv(rest []string) (script string, keys []string, argv []string, cmdErr *dispatch.Err) {
	if len(rest) < 2 {
		return "", nil, nil, dispatch.ArgErr("EVAL")
	}
	script = rest[0]
	numKeys, err := parsePositiveInt(rest[1])
	if err != nil || numKeys > len(rest)-2 {
		return "", nil, nil, dispatch.SyntaxErr()
	}
	keys = rest[2 : 2+numKeys]
	argv = rest[2+numKeys:]
	return script, keys, argv, nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, dispatch.SyntaxErr()
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0, dispatch.SyntaxErr()
		}
		n = n*10 + int(ch-'0')
	}
	return n, nil
}

// runScript wraps eval in the Begin/Commit transactional-isolation protocol
// (§4.6): the script's declared key set is locked for the duration of the
// evaluation so its sequence of redis.call(...) statements behaves as one
// atomic unit with respect to other connections.
func (c *Connection) runScript(script string, keys, argv []string) (resp.Value, *dispatch.Err) {
	for {
		conflictKey, wait, ok := c.server.TxCoord.Begin(c.id, keys)
		if ok {
			break
		}
		select {
		case <-wait:
			continue
		case <-c.closeCh:
			return resp.Value{}, dispatch.IOErr("connection closed awaiting script key " + conflictKey)
		}
	}
	defer c.server.TxCoord.Commit(keys)

	val, err := c.server.Scripting.Eval(script, keys, argv, scriptCaller{c: c})
	if err != nil {
		return resp.Value{}, dispatch.ScriptErr(err.Error())
	}
	return val, nil
}

func (c *Connection) cmdEval(rest []string) (resp.Value, *dispatch.Err) {
	script, keys, argv, cmdErr := evalKeysArgv(rest)
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.registerScript(script)
	return c.runScript(script, keys, argv)
}

func (c *Connection) cmdEvalSHA(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) < 2 {
		return resp.Value{}, dispatch.ArgErr("EVALSHA")
	}
	script, ok := c.server.scriptBySHA(rest[0])
	if !ok {
		return resp.Value{}, dispatch.NotFound("NOSCRIPT no matching script")
	}
	_, keys, argv, cmdErr := evalKeysArgv(append([]string{script}, rest[1:]...))
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	return c.runScript(script, keys, argv)
}

func (c *Connection) cmdScriptRegister(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 2 {
		return resp.Value{}, dispatch.ArgErr("SCRIPT REGISTER")
	}
	name, script := rest[0], rest[1]
	c.server.registerNamedScript(name, script)
	sha := c.server.registerScript(script)
	return resp.BulkString(sha), nil
}

func (c *Connection) cmdEvalName(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) < 1 {
		return resp.Value{}, dispatch.ArgErr("EVALNAME")
	}
	script, ok := c.server.scriptByName(rest[0])
	if !ok {
		return resp.Value{}, dispatch.NotFound("NOSCRIPT no script registered under that name")
	}
	_, keys, argv, cmdErr := evalKeysArgv(append([]string{script}, rest[1:]...))
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	return c.runScript(script, keys, argv)
}
