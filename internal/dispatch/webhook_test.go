package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTestClient swaps the package-level webhookClient for the duration of
// a test so httptest servers (which bind to 127.0.0.1) aren't rejected by
// the production SSRF-safe transport.
func withTestClient(t *testing.T) {
	t.Helper()
	orig := webhookClient
	webhookClient = &http.Client{}
	t.Cleanup(func() { webhookClient = orig })
}

func testAgent(url string) *core.Agent {
	return &core.Agent{
		ID:            "agent-1",
		Kind:          core.AgentKindWebhook,
		WebhookURL:    url,
		WebhookSecret: "whsec_test",
	}
}

func TestDispatchWebhook_Success(t *testing.T) {
	withTestClient(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload TurnPayload
		json.NewDecoder(r.Body).Decode(&payload)

		sig := r.Header.Get("X-AIO-Signature")
		assert.Contains(t, sig, "sha256=")

		json.NewEncoder(w).Encode(TurnResponse{Answer: "42"})
	}))
	defer srv.Close()

	agent := testAgent(srv.URL)
	payload := &TurnPayload{CompetitionID: "comp-1", TaskID: "task-1"}

	result := dispatchWebhook(context.Background(), agent, payload, time.Second, 1<<20)
	require.Equal(t, core.TurnOK, result.Kind)
	require.NotNil(t, result.Response)
	assert.Equal(t, "42", result.Response.Answer)
}

func TestDispatchWebhook_BadStatus(t *testing.T) {
	withTestClient(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	result := dispatchWebhook(context.Background(), testAgent(srv.URL), &TurnPayload{}, time.Second, 1<<20)
	assert.Equal(t, core.TurnBadStatus, result.Kind)
}

func TestDispatchWebhook_InvalidJSON(t *testing.T) {
	withTestClient(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	result := dispatchWebhook(context.Background(), testAgent(srv.URL), &TurnPayload{}, time.Second, 1<<20)
	assert.Equal(t, core.TurnInvalidResponse, result.Kind)
}

func TestDispatchWebhook_Timeout(t *testing.T) {
	withTestClient(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(TurnResponse{Answer: "late"})
	}))
	defer srv.Close()

	result := dispatchWebhook(context.Background(), testAgent(srv.URL), &TurnPayload{}, 5*time.Millisecond, 1<<20)
	assert.Equal(t, core.TurnTimeout, result.Kind)
}

func TestDispatchWebhook_ResponseTooLarge(t *testing.T) {
	withTestClient(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	result := dispatchWebhook(context.Background(), testAgent(srv.URL), &TurnPayload{}, time.Second, 10)
	assert.Equal(t, core.TurnInvalidResponse, result.Kind)
}

func TestDispatcher_Dispatch_DecryptFailureSurfacesAsUpstreamError(t *testing.T) {
	vault, err := security.NewVault("test-secret")
	require.NoError(t, err)

	d := NewDispatcher(vault, time.Second, 1<<20)
	agent := &core.Agent{Kind: core.AgentKindAPIKey, EncryptedKeyBlob: "not-a-valid-blob"}

	result := d.Dispatch(context.Background(), agent, &TurnPayload{})
	assert.Equal(t, core.TurnUpstreamError, result.Kind)
}
