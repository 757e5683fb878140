package intake

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/config"
	"github.com/beacon-lab/project-beacon/internal/core/crypto"
	httperr "github.com/beacon-lab/project-beacon/internal/core/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/126.0 Safari/537.36"

func testSettings() config.PipelineConfig {
	return config.PipelineConfig{
		TransmissionMethod: "test_mode",
		BatchSize:          1000,
		RetryCeiling:       3,
		RetentionDays:      30,
		RateLimitPerMinute: 100,
		DispatchInterval:   "5m",
		LockTTL:            "5m",
		SinkTimeout:        "30s",
	}
}

func newTestService(t *testing.T, store *fakeStore, settings config.PipelineConfig) *Service {
	t.Helper()
	bots, err := NewBotDetector("")
	require.NoError(t, err)
	return NewService(store, config.NewStatic(settings), bots, 1)
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func post(r *gin.Engine, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/collect", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)
	req.RemoteAddr = "203.0.113.7:52811"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCollectHandler_SingleEventWithConsent(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	body := `{
		"event": {"name": "scroll", "params": {"depth": 80}},
		"consent": {"ad_user_data": "GRANTED", "ad_personalization": "GRANTED"},
		"batch": false
	}`
	resp := post(r, body, map[string]string{"Accept-Language": "en-US"})

	require.Equal(t, http.StatusOK, resp.Code)
	var result v1.IntakeResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.True(t, result.Success)
	require.Equal(t, 1, result.EventsQueued)
	require.Equal(t, 0, result.EventsFailed)

	events := store.stored()
	require.Len(t, events, 1)
	evt := events[0]
	require.NotEmpty(t, evt.ID)
	require.Equal(t, "scroll", evt.Name)
	require.Equal(t, v1.MonitorAllowed, evt.MonitorStatus)
	require.NotNil(t, evt.QueueStatus)
	require.Equal(t, v1.QueuePending, *evt.QueueStatus)
	require.NotNil(t, evt.ConsentGiven)
	require.True(t, *evt.ConsentGiven)
	require.Equal(t, "203.0.113.7", evt.ClientIP)
	require.Equal(t, "en-US", evt.Headers["Accept-Language"])
	require.NotContains(t, evt.Headers, "Authorization")
}

func TestCollectHandler_BatchOfThree(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	body := `{
		"events": [
			{"name": "page_view", "params": {"page": "/"}},
			{"name": "add_to_cart", "params": {"sku": "A-1"}},
			{"name": "purchase", "params": {"value": 19.99}}
		],
		"batch": true
	}`
	resp := post(r, body, nil)

	require.Equal(t, http.StatusOK, resp.Code)
	var result v1.IntakeResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, 3, result.EventsQueued)

	events := store.stored()
	require.Len(t, events, 3)
	for _, evt := range events {
		require.Equal(t, v1.MonitorAllowed, evt.MonitorStatus)
		require.Equal(t, v1.QueuePending, *evt.QueueStatus)
		require.Nil(t, evt.ConsentGiven, "no consent block means unknown")
	}
}

func TestCollectHandler_LegacyFlatShape(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	resp := post(r, `{"name": "form_submit", "params": {"form_id": "contact"}}`, nil)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, store.stored(), 1)
	require.Equal(t, "form_submit", store.stored()[0].Name)
}

func TestCollectHandler_ValidationFailures(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{"empty body", "", msgInvalidRequest},
		{"empty object", "{}", msgInvalidRequest},
		{"not json", "not json at all", msgInvalidRequest},
		{"empty events array", `{"events": [], "batch": true}`, msgEmptyEvents},
		{"missing name at index 1", `{"events": [{"name": "a"}, {"params": {}}], "batch": true}`, "Missing event name at index 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			r := newTestRouter(newTestService(t, store, testSettings()))

			resp := post(r, tc.body, nil)

			require.Equal(t, http.StatusBadRequest, resp.Code)
			var errResp httperr.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
			require.Equal(t, tc.wantMessage, errResp.Message)
			require.Empty(t, store.stored(), "rejected submissions must store nothing by default")
		})
	}
}

func TestCollectHandler_BotBlocked(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	body := `{"event": {"name": "page_view"}, "batch": false}`
	resp := post(r, body, map[string]string{"User-Agent": "Googlebot/2.1 (+http://www.google.com/bot.html)"})

	require.Equal(t, http.StatusForbidden, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpBotDetectedError, errResp.ErrorType)

	events := store.stored()
	require.Len(t, events, 1)
	require.Equal(t, v1.MonitorBotDetected, events[0].MonitorStatus)
	require.Nil(t, events[0].QueueStatus, "bot events are never enqueued")
}

func TestCollectHandler_RateLimited(t *testing.T) {
	store := newFakeStore()
	settings := testSettings()
	settings.RateLimitPerMinute = 3
	r := newTestRouter(newTestService(t, store, settings))

	body := `{"event": {"name": "page_view"}, "batch": false}`
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, post(r, body, nil).Code)
	}

	resp := post(r, body, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpRateLimitedError, errResp.ErrorType)

	// Three queued records plus one monitor_status=error audit row.
	events := store.stored()
	require.Len(t, events, 4)
	require.Equal(t, v1.MonitorError, events[3].MonitorStatus)
	require.Nil(t, events[3].QueueStatus)
}

func TestCollectHandler_EncryptionAtRest(t *testing.T) {
	store := newFakeStore()
	settings := testSettings()
	settings.EncryptionEnabled = true
	settings.EncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	r := newTestRouter(newTestService(t, store, settings))

	resp := post(r, `{"event": {"name": "page_view", "params": {"page": "/secret"}}, "batch": false}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	events := store.stored()
	require.Len(t, events, 1)
	evt := events[0]
	require.True(t, evt.FinalPayloadEncrypted)
	require.False(t, evt.WasOriginallyEncrypted)
	require.NotContains(t, evt.Payload, "/secret")

	cipher, err := crypto.NewPayloadCipher(settings.EncryptionKey)
	require.NoError(t, err)
	plaintext, err := cipher.Decrypt(evt.Payload)
	require.NoError(t, err)
	require.Contains(t, plaintext, "/secret")
}

func TestCollectHandler_EncryptedInboundBody(t *testing.T) {
	store := newFakeStore()
	settings := testSettings()
	settings.EncryptionEnabled = true
	settings.EncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	r := newTestRouter(newTestService(t, store, settings))

	cipher, err := crypto.NewPayloadCipher(settings.EncryptionKey)
	require.NoError(t, err)
	sealed, err := cipher.Encrypt(`{"event": {"name": "purchase", "params": {"value": 19.99}}, "batch": false}`)
	require.NoError(t, err)

	resp := post(r, sealed, map[string]string{"X-Beacon-Encrypted": "true"})
	require.Equal(t, http.StatusOK, resp.Code)

	events := store.stored()
	require.Len(t, events, 1)
	evt := events[0]
	require.Equal(t, "purchase", evt.Name)
	require.True(t, evt.WasOriginallyEncrypted)
	require.True(t, evt.FinalPayloadEncrypted)

	plaintext, err := cipher.Decrypt(evt.Payload)
	require.NoError(t, err)
	require.Contains(t, plaintext, "purchase")
}

func TestCollectHandler_UndecryptableInboundBody(t *testing.T) {
	store := newFakeStore()
	settings := testSettings()
	settings.EncryptionEnabled = true
	settings.EncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	r := newTestRouter(newTestService(t, store, settings))

	// Sealed under a different key, so decryption fails and the raw
	// ciphertext is rejected by shape validation.
	otherCipher, err := crypto.NewPayloadCipher("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	sealed, err := otherCipher.Encrypt(`{"event": {"name": "page_view"}, "batch": false}`)
	require.NoError(t, err)

	resp := post(r, sealed, map[string]string{"X-Beacon-Encrypted": "true"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), httperr.HttpValidationError)
	require.Empty(t, store.stored())
}

func TestCollectHandler_ExplicitEncryptedHeader(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	resp := post(r, `{"event": {"name": "page_view"}, "batch": false}`,
		map[string]string{"X-Beacon-Encrypted": "true"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, store.stored()[0].WasOriginallyEncrypted)
}

func TestCollectHandler_ConsentDenied(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	body := `{
		"event": {"name": "page_view"},
		"consent": {"ad_user_data": "GRANTED", "ad_personalization": "DENIED"},
		"batch": false
	}`
	require.Equal(t, http.StatusOK, post(r, body, nil).Code)

	evt := store.stored()[0]
	require.NotNil(t, evt.ConsentGiven)
	require.False(t, *evt.ConsentGiven)
}

func TestCollectHandler_AllStorageFailures(t *testing.T) {
	store := newFakeStore()
	store.createErr = errContrived
	r := newTestRouter(newTestService(t, store, testSettings()))

	resp := post(r, `{"event": {"name": "page_view"}, "batch": false}`, nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpStorageError, errResp.ErrorType)
}

func TestCollectHandler_OversizedBody(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(newTestService(t, store, testSettings()))

	huge := bytes.Repeat([]byte("x"), 1024*1024+2)
	resp := post(r, string(huge), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}
