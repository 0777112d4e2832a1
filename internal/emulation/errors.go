package emulation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable means the emulation backend process or API could not be reached.
	ErrBackendUnavailable = errors.New("emulation backend unavailable")
	// ErrCommandFailed matches every *CommandError.
	ErrCommandFailed = errors.New("command failed")
	ErrUnknownHandle = errors.New("unknown network handle")
	ErrUnknownNode   = errors.New("unknown node")
	// ErrNetworkActive is returned when a backend is asked to build a second network.
	ErrNetworkActive = errors.New("a network is already active on this backend")
)

// CommandError is a node-level command that ran and returned a nonzero exit code.
type CommandError struct {
	Node     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q on %s exited with code %d", e.Command, e.Node, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Unavailable wraps err so that it matches ErrBackendUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
