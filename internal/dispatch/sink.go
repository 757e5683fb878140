package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/config"
)

// SinkEvent is one normalized event as forwarded to the external sink.
type SinkEvent struct {
	Name         string                 `json:"name"`
	Params       map[string]interface{} `json:"params,omitempty"`
	ConsentGiven *bool                  `json:"consent_given,omitempty"`
	ClientIP     string                 `json:"client_ip,omitempty"`
}

// Sink is the external HTTP destination of a dispatch batch. One Send call
// covers the whole batch; any non-2xx outcome is batch-wide failure.
type Sink interface {
	Send(ctx context.Context, events []SinkEvent) error
	Name() string
}

// NewSink builds the sink selected by the current pipeline settings.
func NewSink(settings config.PipelineConfig, client *http.Client) (Sink, error) {
	switch settings.Method() {
	case v1.TransmissionCloudflare:
		return &CloudflareSink{URL: settings.CloudflareWorkerURL, Client: client}, nil
	case v1.TransmissionGA4Direct:
		return &GA4Sink{
			MeasurementID: settings.GA4MeasurementID,
			APISecret:     settings.GA4APISecret,
			Client:        client,
		}, nil
	case v1.TransmissionTestMode:
		return &TestSink{}, nil
	default:
		return nil, fmt.Errorf("unsupported transmission method %q", settings.TransmissionMethod)
	}
}

// CloudflareSink POSTs the batch to a Cloudflare Worker collector URL.
type CloudflareSink struct {
	URL    string
	Client *http.Client
}

func (s *CloudflareSink) Name() string { return "cloudflare" }

func (s *CloudflareSink) Send(ctx context.Context, events []SinkEvent) error {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return postJSON(ctx, s.Client, s.URL, body)
}

// GA4Sink POSTs the batch to the GA4 Measurement Protocol collect endpoint.
type GA4Sink struct {
	MeasurementID string
	APISecret     string
	Client        *http.Client

	// BaseURL overrides the Google endpoint in tests.
	BaseURL string
}

const ga4DefaultBaseURL = "https://www.google-analytics.com/mp/collect"

func (s *GA4Sink) Name() string { return "ga4_direct" }

func (s *GA4Sink) Send(ctx context.Context, events []SinkEvent) error {
	base := s.BaseURL
	if base == "" {
		base = ga4DefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s?measurement_id=%s&api_secret=%s",
		base, url.QueryEscape(s.MeasurementID), url.QueryEscape(s.APISecret))

	type ga4Event struct {
		Name   string                 `json:"name"`
		Params map[string]interface{} `json:"params,omitempty"`
	}
	payload := struct {
		ClientID string     `json:"client_id"`
		Events   []ga4Event `json:"events"`
	}{ClientID: "beacon-relay"}
	for _, evt := range events {
		payload.Events = append(payload.Events, ga4Event{Name: evt.Name, Params: evt.Params})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal GA4 batch: %w", err)
	}
	return postJSON(ctx, s.Client, endpoint, body)
}

// TestSink accepts every batch without contacting anything.
type TestSink struct{}

func (s *TestSink) Name() string { return "test_mode" }

func (s *TestSink) Send(ctx context.Context, events []SinkEvent) error {
	return nil
}

// postJSON performs the batch POST and interprets the response: 2xx is
// success, everything else (including transport errors and timeouts) is a
// batch-wide failure.
func postJSON(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sink unreachable: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
