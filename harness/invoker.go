package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// Invocation is the contract handed to the external command for one call,
// exposed to the child process as environment bindings.
type Invocation struct {
	Operation   string
	ParamSet    string
	MessageSize uint64
	Iterations  uint64
	AlgName     string
	LibName     string
}

// Env returns the environment bindings for this invocation. MESSAGE_SIZE
// and MSG_SIZE carry the same value; older bench binaries read the short
// name.
func (inv Invocation) Env() []string {
	size := strconv.FormatUint(inv.MessageSize, 10)

	return []string{
		"OPERATION=" + inv.Operation,
		"PARAM_SET=" + inv.ParamSet,
		"MESSAGE_SIZE=" + size,
		"MSG_SIZE=" + size,
		"ITERATIONS=" + strconv.FormatUint(inv.Iterations, 10),
		"ALG_NAME=" + inv.AlgName,
		"LIB_NAME=" + inv.LibName,
	}
}

// Invoker runs one benchmark invocation and reports its wall-clock
// duration. Implementations must time with a monotonic source.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (time.Duration, error)
}

// CommandInvoker executes a shell command once per invocation with the
// contract bindings appended to the inherited environment. The command is
// a black box: only its exit status is interpreted.
type CommandInvoker struct {
	Command string
}

// Invoke runs the command via the shell and times the whole child process.
// Stdout is discarded; stderr is captured and quoted in the error on a
// non-zero exit. time.Since reads the monotonic clock. Cancelling the
// context kills the command's entire process group and returns promptly.
func (c *CommandInvoker) Invoke(
	ctx context.Context,
	inv Invocation,
) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.Command)
	cmd.Env = append(os.Environ(), inv.Env()...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// The shell may fork the bench command rather than exec it. Killing
	// the shell alone would leave the fork running with the stderr pipe
	// held open, and Wait would block on the pipe until the fork exits.
	// Cancel therefore kills the whole process group, and WaitDelay caps
	// the pipe drain in case a process has left the group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}

		return err
	}
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		return elapsed, fmt.Errorf(
			"bench command failed: %w\nstderr: %s",
			err, stderr.String(),
		)
	}

	return elapsed, nil
}
