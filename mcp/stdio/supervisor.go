package stdio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"syscall"
	"time"
)

// Healthy reports whether GET <baseURL>/health answers 200.
func (b *Bridge) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureServer makes sure the tool server is reachable. When it is not and
// command is set, command is started and polled with exponential backoff
// until healthy or timeout elapses. The returned stop function terminates a
// server started here and is a no-op otherwise.
func (b *Bridge) EnsureServer(ctx context.Context, command []string, timeout time.Duration) (stop func(), err error) {
	noop := func() {}
	if b.Healthy(ctx) {
		b.logger.Info("tool server already running", "url", b.baseURL)
		return noop, nil
	}
	if len(command) == 0 {
		return noop, fmt.Errorf("stdio: tool server at %s is not reachable", b.baseURL)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return noop, fmt.Errorf("stdio: starting tool server: %w", err)
	}
	b.logger.Info("started tool server", "pid", cmd.Process.Pid, "command", command)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	stop = func() {
		// negative pid signals the whole process group
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := waitHealthy(waitCtx, b, done); err != nil {
		stop()
		return noop, err
	}
	b.logger.Info("tool server is healthy", "url", b.baseURL)
	return stop, nil
}

var errServerExited = errors.New("stdio: tool server exited before becoming healthy")

func waitHealthy(ctx context.Context, b *Bridge, exited <-chan struct{}) error {
	delay := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		if b.Healthy(ctx) {
			return nil
		}
		b.logger.Debug("waiting for tool server", "attempt", attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("stdio: tool server not healthy: %w", ctx.Err())
		case <-exited:
			return errServerExited
		case <-time.After(delay):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
}
