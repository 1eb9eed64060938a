package hostcmd

import "fmt"

// CommandFailure is returned when a host command exits with a non-zero
// status and the caller asked to wait for it (spec §7).
type CommandFailure struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandFailure) Error() string {
	return fmt.Sprintf("command %q failed with exit status %d: %s", e.Args, e.ExitCode, e.Stderr)
}
