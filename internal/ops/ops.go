// Package ops abstracts the external operations plane the orchestrator
// drives during recovery. Every call is fire-and-confirm: it either
// completes or returns an error; no atomicity is assumed across calls.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Interface is the set of imperative operations recovery chains invoke
type Interface interface {
	ReconnectDatabase(ctx context.Context) error
	FailoverDatabase(ctx context.Context, replica string) error
	// RestoreBackup restores by class: "latest" or "clean"
	RestoreBackup(ctx context.Context, class string) error
	RestartService(ctx context.Context, service string) error
	RollbackService(ctx context.Context, service string) error
	StopService(ctx context.Context, service string) error
	StartService(ctx context.Context, service string) error
	EnableDegradation(ctx context.Context, service, level string) error
	SwitchLoadBalancer(ctx context.Context, group string) error
	ActivateCDNRegion(ctx context.Context, region string) error
	TriggerAutoscale(ctx context.Context, group string) error
	IsolateComponent(ctx context.Context, component string) error
	VerifyIntegrity(ctx context.Context) error
	// BackupDatabase runs an out-of-band backup and returns its identifier
	BackupDatabase(ctx context.Context) (string, error)
}

// HTTPClient drives a remote operations endpoint over REST
type HTTPClient struct {
	baseURL string
	client  *http.Client
	token   string
}

func NewHTTPClient(baseURL, token string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client, token: token}
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal operation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("operation %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("operation %s returned status %d: %s", path, resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("operation %s returned malformed response: %w", path, err)
		}
	}
	return nil
}

func (c *HTTPClient) ReconnectDatabase(ctx context.Context) error {
	return c.post(ctx, "/db/reconnect", nil, nil)
}

func (c *HTTPClient) FailoverDatabase(ctx context.Context, replica string) error {
	return c.post(ctx, "/db/failover", map[string]string{"replica": replica}, nil)
}

func (c *HTTPClient) RestoreBackup(ctx context.Context, class string) error {
	return c.post(ctx, "/db/restore", map[string]string{"class": class}, nil)
}

func (c *HTTPClient) RestartService(ctx context.Context, service string) error {
	return c.post(ctx, "/services/restart", map[string]string{"service": service}, nil)
}

func (c *HTTPClient) RollbackService(ctx context.Context, service string) error {
	return c.post(ctx, "/services/rollback", map[string]string{"service": service}, nil)
}

func (c *HTTPClient) StopService(ctx context.Context, service string) error {
	return c.post(ctx, "/services/stop", map[string]string{"service": service}, nil)
}

func (c *HTTPClient) StartService(ctx context.Context, service string) error {
	return c.post(ctx, "/services/start", map[string]string{"service": service}, nil)
}

func (c *HTTPClient) EnableDegradation(ctx context.Context, service, level string) error {
	return c.post(ctx, "/services/degrade", map[string]string{"service": service, "level": level}, nil)
}

func (c *HTTPClient) SwitchLoadBalancer(ctx context.Context, group string) error {
	return c.post(ctx, "/infra/lb/failover", map[string]string{"group": group}, nil)
}

func (c *HTTPClient) ActivateCDNRegion(ctx context.Context, region string) error {
	return c.post(ctx, "/infra/cdn/activate", map[string]string{"region": region}, nil)
}

func (c *HTTPClient) TriggerAutoscale(ctx context.Context, group string) error {
	return c.post(ctx, "/infra/autoscale", map[string]string{"group": group}, nil)
}

func (c *HTTPClient) IsolateComponent(ctx context.Context, component string) error {
	return c.post(ctx, "/security/isolate", map[string]string{"component": component}, nil)
}

func (c *HTTPClient) VerifyIntegrity(ctx context.Context) error {
	var result struct {
		Clean bool `json:"clean"`
	}
	if err := c.post(ctx, "/db/verify-integrity", nil, &result); err != nil {
		return err
	}
	if !result.Clean {
		return fmt.Errorf("integrity verification reports corruption")
	}
	return nil
}

func (c *HTTPClient) BackupDatabase(ctx context.Context) (string, error) {
	var result struct {
		BackupID string `json:"backup_id"`
	}
	if err := c.post(ctx, "/db/backup", nil, &result); err != nil {
		return "", err
	}
	return result.BackupID, nil
}
