package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PrepareClient asks the orchestrator to provision a run before the
// socket is opened. Best effort from the caller's point of view; the
// run may already exist on the peer.
type PrepareClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type prepareRequest struct {
	RunID string `json:"run_id"`
}

func NewPrepareClient(baseURL, token string) *PrepareClient {
	return &PrepareClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *PrepareClient) PrepareRun(ctx context.Context, runID string) error {
	body, err := json.Marshal(prepareRequest{RunID: runID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/runs/prepare", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("prepare run failed with status: %d", res.StatusCode)
	}
	return nil
}
