package handler

import (
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execPubSub(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "SUBSCRIBE":
		return c.cmdSubscribe(rest)
	case "UNSUBSCRIBE":
		return c.cmdUnsubscribe(rest)
	case "PSUBSCRIBE":
		return c.cmdPSubscribe(rest)
	case "PUBLISH":
		return c.cmdPublish(rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

func (c *Connection) cmdSubscribe(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("SUBSCRIBE")
	}
	for _, channel := range rest {
		if err := c.rule.CheckChannel(channel); err != nil {
			return resp.Value{}, err
		}
	}

	c.subMu.Lock()
	for _, channel := range rest {
		c.channels[channel] = true
	}
	count := len(c.channels) + len(c.patterns)
	c.subMu.Unlock()

	for _, channel := range rest {
		c.server.Bus.Subscribe(channel, c.id, c.deliverer())
	}
	return resp.Push(resp.BulkString("subscribe"), resp.BulkString(rest[len(rest)-1]), resp.Integer(int64(count))), nil
}

func (c *Connection) cmdUnsubscribe(rest []string) (resp.Value, *dispatch.Err) {
	channels := rest
	c.subMu.Lock()
	if len(channels) == 0 {
		for ch := range c.channels {
			channels = append(channels, ch)
		}
	}
	for _, ch := range channels {
		delete(c.channels, ch)
	}
	count := len(c.channels) + len(c.patterns)
	c.subMu.Unlock()

	for _, ch := range channels {
		c.server.Bus.Unsubscribe(ch, c.id)
	}
	last := ""
	if len(channels) > 0 {
		last = channels[len(channels)-1]
	}
	return resp.Push(resp.BulkString("unsubscribe"), resp.BulkString(last), resp.Integer(int64(count))), nil
}

func (c *Connection) cmdPSubscribe(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("PSUBSCRIBE")
	}
	for _, pattern := range rest {
		if err := c.rule.CheckChannel(pattern); err != nil {
			return resp.Value{}, err
		}
	}

	c.subMu.Lock()
	for _, pattern := range rest {
		c.patterns[pattern] = true
	}
	count := len(c.channels) + len(c.patterns)
	c.subMu.Unlock()

	for _, pattern := range rest {
		c.server.Bus.PSubscribe(pattern, c.id, c.deliverer())
	}
	return resp.Push(resp.BulkString("psubscribe"), resp.BulkString(rest[len(rest)-1]), resp.Integer(int64(count))), nil
}

func (c *Connection) cmdPublish(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 2 {
		return resp.Value{}, dispatch.ArgErr("PUBLISH")
	}
	channel, payload := rest[0], rest[1]
	n := c.server.Bus.Publish(channel, []byte(payload))
	return resp.Integer(int64(n)), nil
}
