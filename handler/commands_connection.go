package handler

import (
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execConnection(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "AUTH":
		return c.cmdAuth(rest)
	case "HELLO":
		return c.cmdHello(rest)
	case "PING":
		return c.cmdPing(rest)
	case "ECHO":
		return c.cmdEcho(rest)
	case "CLIENT":
		return c.cmdClient(rest)
	case "RESET":
		return c.cmdReset(), nil
	case "QUIT":
		return resp.SimpleString("OK"), nil
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

func (c *Connection) cmdAuth(rest []string) (resp.Value, *dispatch.Err) {
	var user, pass string
	switch len(rest) {
	case 1:
		pass = rest[0]
	case 2:
		user, pass = rest[0], rest[1]
	default:
		return resp.Value{}, dispatch.ArgErr("AUTH")
	}

	if user == "" {
		if c.server.requirePass == "" {
			return resp.Value{}, dispatch.NewErr(dispatch.KindArg, "Client sent AUTH, but no password is set")
		}
		if pass != c.server.requirePass {
			return resp.Value{}, dispatch.WrongPass()
		}
		c.authenticated = true
		c.rule = c.server.defaultACL
		return resp.SimpleString("OK"), nil
	}

	rule, ok := c.server.aclFor(user)
	if !ok || !rule.Enabled || !rule.CheckPassword(pass) {
		return resp.Value{}, dispatch.WrongPass()
	}
	c.authenticated = true
	c.rule = rule
	return resp.SimpleString("OK"), nil
}

func (c *Connection) cmdHello(rest []string) (resp.Value, *dispatch.Err) {
	for i := 0; i < len(rest); i++ {
		if eqFold(rest[i], "AUTH") && i+2 < len(rest) {
			if _, err := c.cmdAuth(rest[i+1 : i+3]); err != nil {
				return resp.Value{}, err
			}
			i += 2
		}
	}
	return resp.Map(
		resp.BulkString("server"), resp.BulkString("emberkv"),
		resp.BulkString("proto"), resp.Integer(3),
		resp.BulkString("id"), resp.Integer(c.id),
		resp.BulkString("mode"), resp.BulkString("standalone"),
	), nil
}

func (c *Connection) cmdPing(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.SimpleString("PONG"), nil
	}
	if len(rest) == 1 {
		return resp.BulkString(rest[0]), nil
	}
	return resp.Value{}, dispatch.ArgErr("PING")
}

func (c *Connection) cmdEcho(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("ECHO")
	}
	return resp.BulkString(rest[0]), nil
}

func (c *Connection) cmdClient(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("CLIENT")
	}
	switch {
	case eqFold(rest[0], "GETNAME"):
		return resp.BulkString(c.clientName), nil
	case eqFold(rest[0], "SETNAME") && len(rest) == 2:
		c.clientName = rest[1]
		return resp.SimpleString("OK"), nil
	case eqFold(rest[0], "ID"):
		return resp.Integer(c.id), nil
	default:
		return resp.Value{}, dispatch.SyntaxErr()
	}
}

// cmdReset restores the connection to its freshly accepted state: default
// ACL, unauthenticated unless no password is required, every subscription
// torn down.
func (c *Connection) cmdReset() resp.Value {
	c.subMu.Lock()
	for ch := range c.channels {
		c.server.Bus.Unsubscribe(ch, c.id)
	}
	for p := range c.patterns {
		c.server.Bus.PUnsubscribe(p, c.id)
	}
	c.channels = make(map[string]bool)
	c.patterns = make(map[string]bool)
	c.subMu.Unlock()

	c.rule = c.server.defaultACL
	c.authenticated = c.server.requirePass == ""
	c.clientName = ""
	return resp.SimpleString("RESET")
}
