// Package exec implements the Script Executor (spec.md §4.2) and the
// URL-Scheme Invoker (spec.md §4.4). Both are one-shot automation
// backends: the executor spawns osascript as a subprocess per call, the
// invoker opens a things:// URL via the platform opener. Neither keeps a
// long-lived pipe or process.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/thingsmcp/bridge/internal/errcode"
)

// Result is the outcome of one script execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs AppleScript/JXA source via osascript, one subprocess per
// call, killing the whole process group on timeout so no orphan survives.
type Executor struct {
	BinaryPath string
}

// New returns an Executor bound to the osascript binary at binaryPath.
func New(binaryPath string) *Executor {
	return &Executor{BinaryPath: binaryPath}
}

// Run executes script with the given timeout, classifying failures into
// the shared error taxonomy instead of leaking raw *exec.ExitError values.
func (e *Executor) Run(ctx context.Context, script string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.BinaryPath, "-e", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: dur}

	if ctx.Err() == context.DeadlineExceeded {
		return res, errcode.New(errcode.BackendTimeout, fmt.Sprintf("osascript did not return within %s", timeout))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if asExitError(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if isAppNotRunning(res.Stderr) {
				return res, errcode.New(errcode.BackendUnavailable, "Things is not running")
			}
			return res, errcode.Wrap(errcode.BackendError, strings.TrimSpace(res.Stderr), err)
		}
		return res, errcode.Wrap(errcode.BackendError, "failed to start osascript", err)
	}

	return res, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func isAppNotRunning(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "application isn't running") || strings.Contains(s, "can't find process")
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Setpgid makes the child its own group leader, so its pid is the pgid.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// Invoker builds and opens things:// URLs, the fire-and-forget write path
// (spec.md §4.4). It never returns a created entity's id; callers accept a
// placeholder id and mark IDIsPlaceholder.
type Invoker struct {
	OpenBinary string // platform opener, e.g. "/usr/bin/open"
	AuthToken  string
}

// NewInvoker returns an Invoker configured with the given auth token
// (empty disables auth-token-only actions).
func NewInvoker(openBinary, authToken string) *Invoker {
	return &Invoker{OpenBinary: openBinary, AuthToken: authToken}
}

// BuildURL percent-encodes params into a things:///<action> URL.
func (inv *Invoker) BuildURL(action string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	if inv.AuthToken != "" {
		q.Set("auth-token", inv.AuthToken)
	}
	return fmt.Sprintf("things:///%s?%s", action, q.Encode())
}

// Invoke opens the URL via the platform opener. The call is fire-and-forget:
// a non-nil error here means the opener itself could not be launched, not
// that the action failed inside Things.
func (inv *Invoker) Invoke(ctx context.Context, action string, params map[string]string) error {
	u := inv.BuildURL(action, params)
	cmd := exec.CommandContext(ctx, inv.OpenBinary, u)
	if err := cmd.Run(); err != nil {
		return errcode.Wrap(errcode.BackendUnavailable, "failed to open things:// URL", err)
	}
	return nil
}
