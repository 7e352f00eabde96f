package watchdog

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
)

// Pinger is the slice of a database pool used for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPProbe reports healthy when url answers 2xx.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health check %s: %w", url, err)
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health check %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// PingProbe reports healthy when the pinger answers.
func PingProbe(p Pinger) Probe {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	}
}

// CommandRestart launches command detached from the watchdog so the
// restarted service survives a watchdog exit.
func CommandRestart(command string, args ...string) RestartFunc {
	return func(_ context.Context) error {
		cmd := exec.Command(command, args...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", command, err)
		}
		if err := cmd.Process.Release(); err != nil {
			return fmt.Errorf("detach %s: %w", command, err)
		}
		return nil
	}
}
