package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandExecutor abstracts exec.CommandContext for testing.
type CommandExecutor func(ctx context.Context, name string, args ...string) *exec.Cmd

// DefaultTimeout bounds a single supervisorctl invocation.
const DefaultTimeout = 30 * time.Second

// Ctl implements Supervisor with the supervisorctl command line tool.
type Ctl struct {
	binary  string
	program string
	exec    CommandExecutor
	timeout time.Duration
}

// NewCtl returns a Supervisor for program using the given supervisorctl binary.
func NewCtl(binary, program string) *Ctl {
	return NewCtlWithExecutor(binary, program, defaultExec)
}

// NewCtlWithExecutor returns a Ctl with a custom command executor.
func NewCtlWithExecutor(binary, program string, executor CommandExecutor) *Ctl {
	if binary == "" {
		binary = "supervisorctl"
	}
	return &Ctl{binary: binary, program: program, exec: executor, timeout: DefaultTimeout}
}

func defaultExec(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// run invokes supervisorctl. supervisorctl uses non-zero exit codes for
// ordinary answers such as "not running", so the output is returned even
// when the command fails.
func (c *Ctl) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.exec(ctx, c.binary, args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("%s %s: %w", c.binary, strings.Join(args, " "), err)
	}
	return text, nil
}

// Start starts the program. Starting an already running program succeeds.
func (c *Ctl) Start(ctx context.Context) error {
	out, err := c.run(ctx, "start", c.program)
	if strings.Contains(out, "already started") {
		return nil
	}
	if err := classify(out, err); err != nil {
		return fmt.Errorf("supervisor start: %w", err)
	}
	slog.Info("Supervisor started program", "program", c.program)
	return nil
}

// Stop stops the program. Stopping a stopped program succeeds.
func (c *Ctl) Stop(ctx context.Context) error {
	out, err := c.run(ctx, "stop", c.program)
	if strings.Contains(out, "not running") {
		return nil
	}
	if err := classify(out, err); err != nil {
		return fmt.Errorf("supervisor stop: %w", err)
	}
	slog.Info("Supervisor stopped program", "program", c.program)
	return nil
}

// Restart restarts the program.
func (c *Ctl) Restart(ctx context.Context) error {
	out, err := c.run(ctx, "restart", c.program)
	if err := classify(out, err); err != nil {
		return fmt.Errorf("supervisor restart: %w", err)
	}
	slog.Info("Supervisor restarted program", "program", c.program)
	return nil
}

// Status returns the program state and pid.
func (c *Ctl) Status(ctx context.Context) (ProcessStatus, error) {
	out, err := c.run(ctx, "status", c.program)
	st, perr := ParseStatus(out, c.program)
	if perr != nil {
		if err != nil {
			return ProcessStatus{State: StateUnknown}, err
		}
		return ProcessStatus{State: StateUnknown}, perr
	}
	return st, nil
}

// Reload re-reads program definitions and applies changes.
func (c *Ctl) Reload(ctx context.Context) error {
	if out, err := c.run(ctx, "reread"); err != nil {
		return fmt.Errorf("supervisor reread: %w (%s)", err, out)
	}
	if out, err := c.run(ctx, "update"); err != nil {
		return fmt.Errorf("supervisor update: %w (%s)", err, out)
	}
	return nil
}

func classify(out string, err error) error {
	if strings.Contains(out, "no such process") || strings.Contains(out, "no such group") {
		return ErrUnknownProgram
	}
	if strings.Contains(out, "ERROR") {
		return fmt.Errorf("%s", out)
	}
	return err
}

// ParseStatus parses `supervisorctl status <program>` output, e.g.
//
//	clawdbot-gateway   RUNNING   pid 1234, uptime 0:01:02
func ParseStatus(out, program string) (ProcessStatus, error) {
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != program {
			continue
		}
		if strings.HasPrefix(strings.Join(fields[1:], " "), "ERROR (no such process)") {
			return ProcessStatus{State: StateUnknown}, ErrUnknownProgram
		}
		st := ProcessStatus{State: State(fields[1])}
		for i := 2; i+1 < len(fields); i++ {
			if fields[i] == "pid" {
				pid, err := strconv.Atoi(strings.TrimSuffix(fields[i+1], ","))
				if err == nil {
					st.PID = pid
				}
				break
			}
		}
		return st, nil
	}
	return ProcessStatus{State: StateUnknown}, fmt.Errorf("supervisor status: no line for %q in %q", program, out)
}
