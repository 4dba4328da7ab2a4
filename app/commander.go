package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/nibble/domain/command"
)

// CheckSentinel is returned by the check command when billing has not
// started for the session, so operators can distinguish "never
// billed" from "billed zero".
const CheckSentinel = -99999

// Commander executes parsed operator commands against the engine and
// renders a textual reply for the console.
type Commander struct {
	engine *Engine
}

// NewCommander creates a commander over the engine.
func NewCommander(engine *Engine) *Commander {
	return &Commander{engine: engine}
}

// Run parses and executes one command line against a session.
func (c *Commander) Run(ctx context.Context, sessionID string, args []string) (string, error) {
	cmd, err := command.Parse(args)
	if err != nil {
		return "", err
	}
	return c.Execute(ctx, sessionID, cmd)
}

// Execute runs an already-parsed command.
func (c *Commander) Execute(ctx context.Context, sessionID string, cmd command.Command) (string, error) {
	switch cmd.Verb {
	case command.VerbPause:
		if err := c.engine.Pause(sessionID); err != nil {
			return "", err
		}
		return "paused", nil

	case command.VerbResume:
		if err := c.engine.Resume(sessionID); err != nil {
			return "", err
		}
		return "resumed", nil

	case command.VerbReset:
		if err := c.engine.Reset(sessionID); err != nil {
			return "", err
		}
		return "reset", nil

	case command.VerbAdjust:
		if err := c.engine.Adjust(ctx, sessionID, cmd.Amount); err != nil {
			return "", err
		}
		return fmt.Sprintf("adjusted %s", formatAmount(cmd.Amount)), nil

	case command.VerbHeartbeat:
		if err := c.engine.EnableHeartbeat(sessionID, cmd.Interval); err != nil {
			return "", err
		}
		return fmt.Sprintf("heartbeat every %s", cmd.Interval), nil

	case command.VerbCheck:
		total, ok := c.engine.Check(sessionID)
		if !ok {
			if _, err := c.engine.lookup(sessionID); err != nil {
				return "", err
			}
			return formatAmount(CheckSentinel), nil
		}
		return formatAmount(total), nil

	case command.VerbFlush:
		if err := c.engine.Bill(ctx, sessionID); err != nil {
			return "", err
		}
		return "flushed", nil

	default:
		return "", fmt.Errorf("%w: unknown verb %q", command.ErrUsage, cmd.Verb)
	}
}

func isNoSession(err error) bool {
	return errors.Is(err, ErrNoSession)
}
