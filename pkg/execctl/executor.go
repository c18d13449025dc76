// Package execctl runs the privileged shell tools (ip, iptables, the
// service manager, openvpn) the rest of the control plane depends on. It
// generalizes the teacher's health.ExecChecker (context-scoped
// exec.CommandContext with captured stdout/stderr) into a small executor
// type with the three verbosity levels and the close-FD shell wrapper the
// specification requires around service restarts.
package execctl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	"github.com/dimrozakis/vpn-proxy-go/pkg/log"
	"github.com/rs/zerolog"
)

// Verbosity controls how much an executor logs about a run.
type Verbosity int

const (
	// Silent logs nothing except a failure to start the process; callers
	// doing an existence check ("does X exist?") use this and interpret the
	// exit code themselves.
	Silent Verbosity = iota
	Debug
	Info
)

// Executor runs argv vectors as child processes with a captured combined
// stdout+stderr stream and a configurable default timeout.
type Executor struct {
	logger  zerolog.Logger
	Timeout time.Duration
}

// New returns an Executor that logs through the given component name.
func New(component string) *Executor {
	return &Executor{
		logger:  log.WithComponent(component),
		Timeout: 30 * time.Second,
	}
}

// Run executes argv[0] with argv[1:], returning the combined stdout+stderr
// on success. A non-zero exit is reported as *domain.CommandFailed; a
// failure to start the child at all is reported as
// *domain.CommandSpawnFailed.
func (e *Executor) Run(ctx context.Context, verbosity Verbosity, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("execctl: empty argv")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeoutOrDefault())
	defer cancel()

	if verbosity >= Debug {
		e.logger.Debug().Strs("argv", argv).Msg("running command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.Bytes()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			cmdErr := &domain.CommandFailed{
				Argv:     argv,
				ExitCode: exitErr.ExitCode(),
				Output:   string(output),
			}
			if verbosity >= Info {
				e.logger.Warn().Strs("argv", argv).Int("exit_code", cmdErr.ExitCode).
					Str("output", cmdErr.Output).Msg("command failed")
			}
			return output, cmdErr
		}
		spawnErr := &domain.CommandSpawnFailed{Argv: argv, Err: err}
		e.logger.Error().Strs("argv", argv).Err(err).Msg("failed to spawn command")
		return output, spawnErr
	}

	if verbosity >= Info {
		e.logger.Info().Strs("argv", argv).Msg("command succeeded")
	}
	return output, nil
}

// Succeeds is a convenience for "does X exist?" checks: it runs in silent
// mode and reports only whether the command exited zero, swallowing
// *domain.CommandFailed (a non-zero exit is the expected "absent" signal)
// while still propagating spawn failures, which indicate a broken host
// rather than an absent resource.
func (e *Executor) Succeeds(ctx context.Context, argv ...string) (bool, error) {
	_, err := e.Run(ctx, Silent, argv...)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*domain.CommandFailed); ok {
		return false, nil
	}
	return false, err
}

// RunCloseFDs runs argv the same way as Run, but through a shell snippet
// that closes every inherited file descriptor above 2 before exec'ing the
// target. This is required around OpenVPN service restarts so the daemon
// does not inherit the HTTP listening socket or other long-lived FDs.
func (e *Executor) RunCloseFDs(ctx context.Context, verbosity Verbosity, argv ...string) ([]byte, error) {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	script := fmt.Sprintf(
		`for fd in $(ls /proc/self/fd 2>/dev/null); do case "$fd" in 0|1|2) ;; *) eval "exec $fd>&-" 2>/dev/null ;; esac; done; exec %s`,
		strings.Join(quoted, " "),
	)
	return e.Run(ctx, verbosity, "sh", "-c", script)
}

func (e *Executor) timeoutOrDefault() time.Duration {
	if e.Timeout <= 0 {
		return 30 * time.Second
	}
	return e.Timeout
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
