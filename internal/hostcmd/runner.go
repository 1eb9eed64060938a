// Package hostcmd is the host executor (spec §4.A): it runs shell-form
// commands locally, and its Broadcast wrapper fans the same command out to
// a set of remote hosts on a best-effort basis.
package hostcmd

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Options configures a single command invocation.
type Options struct {
	// Env holds additional environment variables, merged over the
	// process environment.
	Env map[string]string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Wait, when true, blocks for completion and turns a non-zero exit
	// into a *CommandFailure. When false (the zero value) the command is
	// started and not waited on.
	Wait bool
	// Shell, when true, runs args through "sh -c" instead of splitting
	// it into argv directly.
	Shell bool
}

// Runner executes commands on the local host.
type Runner struct {
	log *logrus.Entry
}

// NewRunner returns a Runner that logs through the package logger.
func NewRunner() *Runner {
	return &Runner{log: logrus.WithField("component", "hostcmd")}
}

// Run executes args (a shell-form command string) and returns combined
// stdout+stderr. A non-zero exit status is reported as *CommandFailure
// when opts.Wait is true. When opts.Wait is false (the zero Options) the
// command is only started: the output is empty and its exit status is
// never observed.
func (r *Runner) Run(ctx context.Context, args string, opts Options) (string, error) {
	r.log.Debugf("running command: %s", args)

	var cmd *exec.Cmd
	if opts.Shell {
		cmd = exec.CommandContext(ctx, "sh", "-c", args)
	} else {
		argv, err := shlex.Split(args)
		if err != nil {
			return "", err
		}
		if len(argv) == 0 {
			return "", nil
		}
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}

	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		env := cmd.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if !opts.Wait {
		if err := cmd.Start(); err != nil {
			return "", err
		}
		return "", nil
	}

	err := cmd.Run()
	output := out.String()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return output, &CommandFailure{
			Args:     argvOf(args, opts.Shell),
			ExitCode: exitCode,
			Stdout:   output,
			Stderr:   output,
		}
	}
	return output, nil
}

func argvOf(args string, shell bool) []string {
	if shell {
		return []string{"sh", "-c", args}
	}
	argv, err := shlex.Split(args)
	if err != nil {
		return []string{args}
	}
	return argv
}
