package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beacon-lab/project-beacon/internal/core/config"
)

func TestNewSink(t *testing.T) {
	client := &http.Client{}

	tests := []struct {
		name     string
		method   string
		wantType Sink
		wantErr  bool
	}{
		{name: "cloudflare", method: "cloudflare", wantType: &CloudflareSink{}},
		{name: "ga4 direct", method: "ga4_direct", wantType: &GA4Sink{}},
		{name: "test mode", method: "test_mode", wantType: &TestSink{}},
		{name: "unsupported", method: "carrier_pigeon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSink(config.PipelineConfig{
				TransmissionMethod:  tt.method,
				CloudflareWorkerURL: "https://worker.example.com/collect",
				GA4MeasurementID:    "G-TEST1234",
				GA4APISecret:        "secret",
			}, client)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.IsType(t, tt.wantType, sink)
		})
	}
}

func TestCloudflareSink_Send(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &CloudflareSink{URL: srv.URL, Client: srv.Client()}
	consent := true
	err := sink.Send(context.Background(), []SinkEvent{
		{Name: "page_view", Params: map[string]interface{}{"page": "/pricing"}, ConsentGiven: &consent, ClientIP: "203.0.113.7"},
	})
	require.NoError(t, err)
	require.Equal(t, "application/json", gotContentType)

	var decoded struct {
		Events []SinkEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Len(t, decoded.Events, 1)
	require.Equal(t, "page_view", decoded.Events[0].Name)
	require.Equal(t, "203.0.113.7", decoded.Events[0].ClientIP)
	require.NotNil(t, decoded.Events[0].ConsentGiven)
	require.True(t, *decoded.Events[0].ConsentGiven)
}

func TestCloudflareSink_Send_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream sad", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := &CloudflareSink{URL: srv.URL, Client: srv.Client()}
	err := sink.Send(context.Background(), []SinkEvent{{Name: "page_view"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestGA4Sink_Send(t *testing.T) {
	var gotQuery map[string][]string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := &GA4Sink{
		MeasurementID: "G-TEST1234",
		APISecret:     "s3cr3t",
		Client:        srv.Client(),
		BaseURL:       srv.URL,
	}
	err := sink.Send(context.Background(), []SinkEvent{
		{Name: "purchase", Params: map[string]interface{}{"value": 19.99}, ClientIP: "203.0.113.7"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"G-TEST1234"}, gotQuery["measurement_id"])
	require.Equal(t, []string{"s3cr3t"}, gotQuery["api_secret"])

	var decoded struct {
		ClientID string `json:"client_id"`
		Events   []struct {
			Name   string                 `json:"name"`
			Params map[string]interface{} `json:"params"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	require.Equal(t, "beacon-relay", decoded.ClientID)
	require.Len(t, decoded.Events, 1)
	require.Equal(t, "purchase", decoded.Events[0].Name)
	require.InDelta(t, 19.99, decoded.Events[0].Params["value"], 0.001)

	// The Measurement Protocol shape carries no client address field.
	require.NotContains(t, string(gotBody), "203.0.113.7")
}

func TestTestSink_Send(t *testing.T) {
	sink := &TestSink{}
	require.NoError(t, sink.Send(context.Background(), []SinkEvent{{Name: "page_view"}}))
	require.Equal(t, "test_mode", sink.Name())
}
