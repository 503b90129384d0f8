// Package plugin implements the subprocess plugin host (C1) and the
// manifest registry (C2). Plugins are independent executables invoked
// on demand, one process per request, speaking NDJSON over stdio: a
// single JSON request line on stdin, an optional stream of
// "PROGRESS:{json}" lines on stderr, and a single JSON response line on
// stdout.
package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ashbourne-dev/reelvault/internal/apperrors"
)

// Host spawns plugin subprocesses and speaks the NDJSON-over-stdio protocol
// with them.
type Host struct {
	requestTimeout    time.Duration
	inactivityTimeout time.Duration
	killGrace         time.Duration
	log               hclog.Logger
}

// NewHost builds a Host. requestTimeout bounds a single get/scrape_actor
// invocation end to end. Batch actions are not bounded by it — their
// liveness is enforced by inactivityTimeout instead: a plugin that goes
// silent on both stdout and stderr for that long is considered hung and
// killed. killGrace is how long a SIGTERM'd plugin gets before SIGKILL.
func NewHost(requestTimeout, inactivityTimeout, killGrace time.Duration) *Host {
	return &Host{
		requestTimeout:    requestTimeout,
		inactivityTimeout: inactivityTimeout,
		killGrace:         killGrace,
		log: hclog.New(&hclog.LoggerOptions{
			Name:  "plugin-host",
			Level: hclog.Info,
		}),
	}
}

// Invoke runs manifest's executable for a single request and returns its
// decoded Response. onProgress, if non-nil, is called for every PROGRESS
// frame the plugin emits on stderr, in arrival order.
//
// A plugin may report failure as a final JSON with success:false, a
// non-zero exit, or both; every flavor maps to an ExternalService error.
// When the caller's ctx is cancelled mid-flight the plugin is sent
// SIGTERM, given killGrace to exit, then SIGKILL'd.
func (h *Host) Invoke(ctx context.Context, manifest *Manifest, req Request, onProgress func(ProgressFrame)) (*Response, error) {
	var cancel context.CancelFunc
	if !req.Action.IsBatch() && h.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	cmd := exec.Command(manifest.ExecutablePath)
	cmd.Dir = manifest.WorkingDirectory
	// Own process group, so kill reaches any children the plugin spawned
	// (which would otherwise hold the stdio pipes open).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, h.failure(manifest, req, fmt.Errorf("failed to open stdin: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, h.failure(manifest, req, fmt.Errorf("failed to open stdout: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, h.failure(manifest, req, fmt.Errorf("failed to open stderr: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, h.failure(manifest, req, fmt.Errorf("failed to start plugin: %w", err))
	}

	h.log.Info("plugin spawned", "plugin", manifest.ID, "action", req.Action, "pid", cmd.Process.Pid)

	// One goroutine owns every kill decision: caller cancellation and the
	// inactivity watchdog both route through it, so the process is
	// signalled at most once and always with the SIGTERM-then-SIGKILL
	// escalation.
	var hung atomic.Bool
	activity := make(chan struct{}, 1)
	procDone := make(chan struct{})
	go h.supervise(ctx, cmd, manifest.ID, req.Action, activity, procDone, &hung)

	reqBytes, err := json.Marshal(req)
	if err != nil {
		h.kill(cmd)
		cmd.Wait()
		close(procDone)
		return nil, h.failure(manifest, req, fmt.Errorf("failed to encode request: %w", err))
	}
	reqBytes = append(reqBytes, '\n')

	if _, err := stdin.Write(reqBytes); err != nil {
		h.kill(cmd)
		cmd.Wait()
		close(procDone)
		return nil, h.failure(manifest, req, fmt.Errorf("failed to write request: %w", err))
	}
	stdin.Close()

	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		h.scanStderr(stderr, manifest.ID, activity, onProgress)
	}()

	stdoutLine, scanErr := h.scanStdout(stdout, activity)

	waitErr := cmd.Wait()
	stderrWG.Wait()
	close(procDone)

	h.log.Info("plugin exited", "plugin", manifest.ID, "action", req.Action, "pid", cmd.Process.Pid)

	if hung.Load() {
		return nil, h.failure(manifest, req, fmt.Errorf("timeout: no output for %s", h.inactivityTimeout))
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, h.failure(manifest, req, fmt.Errorf("timeout: plugin exceeded %s", h.requestTimeout))
	}
	if ctx.Err() == context.Canceled {
		return nil, apperrors.NewCancelledError("")
	}

	var resp *Response
	if stdoutLine != "" {
		var decoded Response
		if err := json.Unmarshal([]byte(stdoutLine), &decoded); err != nil {
			return nil, h.failure(manifest, req, fmt.Errorf("malformed plugin response: %w", err))
		}
		resp = &decoded
	}

	// A plugin may pair success:false with a non-zero exit; prefer its own
	// error message over the bare exit status when both are present.
	if resp != nil && !resp.Success {
		return resp, h.failure(manifest, req, fmt.Errorf("plugin reported failure: %s", resp.ErrorMessage()))
	}
	if waitErr != nil {
		return nil, h.failure(manifest, req, fmt.Errorf("plugin exited with error: %w", waitErr))
	}
	if scanErr != nil {
		return nil, h.failure(manifest, req, scanErr)
	}
	if resp == nil {
		return nil, h.failure(manifest, req, fmt.Errorf("plugin produced no response"))
	}

	return resp, nil
}

func (h *Host) failure(manifest *Manifest, req Request, cause error) error {
	return apperrors.NewExternalServiceError(manifest.ID, string(req.Action), cause)
}

// scanStdout returns the last non-blank line beginning with '{'. Plugins
// are specified to write exactly one final line; any other stdout chatter
// is logged and ignored rather than treated as an error, since a stray
// blank line is harmless.
func (h *Host) scanStdout(stdout io.Reader, activity chan<- struct{}) (string, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var line string
	for scanner.Scan() {
		notifyActivity(activity)
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "{") {
			line = text
			continue
		}
		h.log.Debug("plugin wrote unexpected stdout line", "line", text)
	}
	if err := scanner.Err(); err != nil {
		return line, fmt.Errorf("failed reading stdout: %w", err)
	}
	return line, nil
}

func (h *Host) scanStderr(stderr io.Reader, pluginID string, activity chan<- struct{}, onProgress func(ProgressFrame)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		notifyActivity(activity)
		line := scanner.Text()

		if rest, ok := strings.CutPrefix(line, progressPrefix); ok {
			var frame ProgressFrame
			if err := json.Unmarshal([]byte(rest), &frame); err != nil {
				h.log.Warn("malformed progress frame", "plugin", pluginID, "line", rest)
				continue
			}
			if onProgress != nil {
				onProgress(frame)
			}
			continue
		}

		h.log.Info("plugin log", "plugin", pluginID, "line", line)
	}
}

// supervise watches for caller cancellation and, for batch actions, for
// output inactivity. Either condition kills the process; hung is set when
// the inactivity watchdog fired so Invoke can report "timeout" rather than
// a generic exit error.
func (h *Host) supervise(ctx context.Context, cmd *exec.Cmd, pluginID string, action Action, activity <-chan struct{}, done <-chan struct{}, hung *atomic.Bool) {
	var inactivity <-chan time.Time
	var timer *time.Timer
	if action.IsBatch() && h.inactivityTimeout > 0 {
		timer = time.NewTimer(h.inactivityTimeout)
		defer timer.Stop()
		inactivity = timer.C
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			h.log.Warn("plugin cancelled, killing", "plugin", pluginID)
			h.kill(cmd)
			return
		case <-activity:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(h.inactivityTimeout)
			}
		case <-inactivity:
			h.log.Warn("plugin inactive, killing", "plugin", pluginID, "timeout", h.inactivityTimeout)
			hung.Store(true)
			h.kill(cmd)
			return
		}
	}
}

// kill sends SIGTERM to the plugin's process group, then escalates to
// SIGKILL if the group is still alive after killGrace. It never calls
// Process.Wait itself — the caller's own cmd.Wait() (blocked on the process
// exiting) reaps it — so liveness after the grace period is checked with a
// zero-signal probe instead.
func (h *Host) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	time.Sleep(h.killGrace)
	if syscall.Kill(pgid, syscall.Signal(0)) == nil {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}
}

func notifyActivity(activity chan<- struct{}) {
	select {
	case activity <- struct{}{}:
	default:
	}
}
