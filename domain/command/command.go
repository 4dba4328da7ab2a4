// Package command defines the billing control commands and their
// text-form parsing. The same verbs are accepted as an in-session
// directive and as an out-of-band operator command; validation happens
// here, at the boundary, so the engine only ever sees well-formed
// commands.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Syntax is the usage string returned for malformed commands.
const Syntax = "pause | resume | reset | adjust <amount> | heartbeat <seconds> | check | flush"

// ErrUsage is returned (wrapped) for any malformed command.
var ErrUsage = errors.New("usage: " + Syntax)

// Verb is a validated billing control verb.
type Verb string

const (
	VerbPause     Verb = "pause"
	VerbResume    Verb = "resume"
	VerbReset     Verb = "reset"
	VerbCheck     Verb = "check"
	VerbFlush     Verb = "flush"
	VerbAdjust    Verb = "adjust"
	VerbHeartbeat Verb = "heartbeat"
)

// Command is a parsed billing control command. Amount is set only for
// adjust, Interval only for heartbeat.
type Command struct {
	Verb     Verb
	Amount   float64
	Interval time.Duration
}

// Parse validates a command word plus optional argument. It rejects
// unknown verbs and wrong argument counts without mutating anything.
func Parse(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("empty command: %w", ErrUsage)
	}

	cmd := Command{Verb: Verb(args[0])}
	switch cmd.Verb {
	case VerbPause, VerbResume, VerbReset, VerbCheck, VerbFlush:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%s takes no argument: %w", cmd.Verb, ErrUsage)
		}

	case VerbAdjust:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("adjust needs an amount: %w", ErrUsage)
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("adjust amount %q: %w", args[1], ErrUsage)
		}
		cmd.Amount = amount

	case VerbHeartbeat:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("heartbeat needs an interval: %w", ErrUsage)
		}
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			return Command{}, fmt.Errorf("heartbeat interval %q: %w", args[1], ErrUsage)
		}
		cmd.Interval = time.Duration(secs) * time.Second
	}

	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks a command built without going through Parse, such as
// one decoded from a request body. Parse output always passes.
func (c Command) Validate() error {
	switch c.Verb {
	case VerbPause, VerbResume, VerbReset, VerbCheck, VerbFlush, VerbAdjust:
		return nil
	case VerbHeartbeat:
		if c.Interval <= 0 {
			return fmt.Errorf("heartbeat interval %s: %w", c.Interval, ErrUsage)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", string(c.Verb), ErrUsage)
	}
}
