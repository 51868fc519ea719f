package client

import (
	"strings"
	"time"
)

// IdleCommand represents an in-progress IDLE command.
type IdleCommand struct {
	tag    string
	client *Client
	cmd    *pendingCommand
}

// Idle starts an IDLE command. Call Done() on the returned IdleCommand to stop.
func (c *Client) Idle() (*IdleCommand, error) {
	tag := c.tags.Next()
	cmd := c.pending.Add(tag)

	var line strings.Builder
	line.WriteString(tag)
	line.WriteString(" IDLE\r\n")

	c.encoder.RawString(line.String())
	if err := c.flush(); err != nil {
		c.pending.Complete(tag, &commandResult{err: err})
		return nil, err
	}

	// Wait for continuation request
	if _, err := c.waitForContinuation(cmd); err != nil {
		return nil, err
	}

	return &IdleCommand{
		tag:    tag,
		client: c,
		cmd:    cmd,
	}, nil
}

// Wait blocks until the IDLE command completes or is stopped, bounded by
// the client's IdleTimeout. On expiry the caller should issue Done (or
// reconnect if that fails too) and start a fresh IDLE.
func (ic *IdleCommand) Wait() error {
	var timeoutCh <-chan time.Time
	if d := ic.client.options.IdleTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case result := <-ic.cmd.done:
		return commandResultError(result)
	case <-timeoutCh:
		return ErrTimeout
	}
}

// Done sends the DONE command to stop IDLE.
func (ic *IdleCommand) Done() error {
	if err := ic.client.writeConn([]byte("DONE\r\n")); err != nil {
		return err
	}
	return ic.Wait()
}
