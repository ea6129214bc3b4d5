package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/weftlabs/meshbond/internal/api"
	"github.com/weftlabs/meshbond/internal/mesh"
	"github.com/weftlabs/meshbond/internal/quality"
)

// Client talks to a running daemon over its control socket. The host in
// request URLs is a placeholder; the dialer always connects to the socket.
type Client struct {
	httpc *http.Client
}

func NewClient(socket string) *Client {
	return &Client{
		httpc: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
	}
}

func (c *Client) Status(ctx context.Context) (mesh.Status, error) {
	var st mesh.Status
	err := c.get(ctx, "/status", &st)
	return st, err
}

func (c *Client) Stats(ctx context.Context) (quality.Report, error) {
	var report quality.Report
	err := c.get(ctx, "/stats", &report)
	return report, err
}

func (c *Client) Failover(ctx context.Context, from, to string) error {
	return c.post(ctx, "/failover", api.FailoverRequest{From: from, To: to}, nil)
}

func (c *Client) Test(ctx context.Context, iface string, duration time.Duration) (mesh.TestResult, error) {
	var result mesh.TestResult
	req := api.TestRequest{Interface: iface, DurationS: int(duration / time.Second)}
	err := c.post(ctx, "/test", req, &result)
	return result, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://meshbond"+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://meshbond"+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon (is meshbondd running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
