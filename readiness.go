package webcheck

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/config"
)

const readyPollInterval = 250 * time.Millisecond

// waitReady polls ws.ReadyURL until it answers with a status below 400 or
// ws.StartTimeout passes. The server itself is never started here.
func waitReady(ctx context.Context, ws *config.WebServerConfig, client *http.Client, logger log.Logger) error {
	if ws == nil {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if ws.StartCommand != "" {
		logger.Info("Web server is expected to be started externally", "command", ws.StartCommand, "reuseExisting", ws.ReuseExisting)
	}

	ctx, cancel := context.WithTimeout(ctx, ws.StartTimeout)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := readyStatus(ctx, client, ws.ReadyURL)
		switch {
		case err == nil && status < 400:
			logger.Info("Web server ready", "url", ws.ReadyURL, "status", status, "after", time.Since(start).Round(time.Millisecond))
			return nil
		case err == nil:
			lastErr = fmt.Errorf("status %d", status)
		default:
			lastErr = err
		}
		logger.Trace("Web server not ready", "url", ws.ReadyURL, "err", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("web server at %s not ready after %s: %w", ws.ReadyURL, ws.StartTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

func readyStatus(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
