package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/security"
)

// webhookClient is shared across dispatches; its transport pins every dial
// to an SSRF-checked public IP.
var webhookClient = &http.Client{
	Transport: newSSRFSafeTransport(),
}

// dispatchWebhook POSTs payload to agent.WebhookURL, signs it with the
// agent's webhook secret, and parses the response against TurnResponse.
// Synchronous: the controller needs the result before it can score the turn
// and advance, unlike the teacher's fire-and-forget notification dispatcher.
func dispatchWebhook(ctx context.Context, agent *core.Agent, payload *TurnPayload, timeout time.Duration, maxResponseBytes int64) *TurnResult {
	start := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return &TurnResult{Kind: core.TurnInvalidResponse, ErrorMessage: fmt.Sprintf("marshal payload: %v", err), CompletedAt: time.Now()}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &TurnResult{Kind: core.TurnTransportError, ErrorMessage: fmt.Sprintf("build request: %v", err), CompletedAt: time.Now()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AIO-Event", "turn.dispatch")
	req.Header.Set("X-AIO-Signature", security.SignWebhook(agent.WebhookSecret, body))

	resp, err := webhookClient.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		if ctx.Err() == context.DeadlineExceeded {
			return &TurnResult{Kind: core.TurnTimeout, ErrorMessage: "webhook timed out", ElapsedMS: elapsed.Milliseconds(), CompletedAt: time.Now()}
		}
		return &TurnResult{Kind: core.TurnTransportError, ErrorMessage: err.Error(), ElapsedMS: elapsed.Milliseconds(), CompletedAt: time.Now()}
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return &TurnResult{Kind: core.TurnTransportError, ErrorMessage: fmt.Sprintf("read response: %v", err), ElapsedMS: elapsed.Milliseconds(), CompletedAt: time.Now()}
	}
	if int64(len(raw)) > maxResponseBytes {
		return &TurnResult{Kind: core.TurnInvalidResponse, ErrorMessage: "response exceeded max size", ElapsedMS: elapsed.Milliseconds(), CompletedAt: time.Now()}
	}

	if resp.StatusCode >= 400 {
		return &TurnResult{
			Kind:         core.TurnBadStatus,
			RawResponse:  string(raw),
			ErrorMessage: fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			ElapsedMS:    elapsed.Milliseconds(),
			CompletedAt:  time.Now(),
		}
	}

	var parsed TurnResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &TurnResult{
			Kind:         core.TurnInvalidResponse,
			RawResponse:  string(raw),
			ErrorMessage: fmt.Sprintf("invalid response schema: %v", err),
			ElapsedMS:    elapsed.Milliseconds(),
			CompletedAt:  time.Now(),
		}
	}

	return &TurnResult{
		Kind:        core.TurnOK,
		Response:    &parsed,
		RawResponse: string(raw),
		ElapsedMS:   elapsed.Milliseconds(),
		CompletedAt: time.Now(),
	}
}
