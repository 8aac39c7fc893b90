package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"notification-inspector/internal/events"
)

type GatewayClient interface {
	SendEvents(ctx context.Context, evts []events.Event) error
}

// Batch is the JSON body posted to the gateway. Instance identifies this
// agent process, since event ids restart on every clear and every launch.
type Batch struct {
	Instance string         `json:"instance"`
	Events   []events.Event `json:"events"`
}

type httpClient struct {
	url      string
	instance string
	c        *http.Client
}

func NewHTTPClient(url, instance string) GatewayClient {
	return &httpClient{url: url, instance: instance, c: &http.Client{Timeout: 15 * time.Second}}
}

func (h *httpClient) SendEvents(ctx context.Context, evts []events.Event) error {
	if h.url == "" {
		return nil
	}
	payload, err := json.Marshal(Batch{Instance: h.instance, Events: evts})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
