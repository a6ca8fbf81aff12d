package dispatch

import (
	"context"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/security"
)

// Dispatcher sends one turn to one agent synchronously and returns its
// TurnResult. It is stateless aside from its Vault and tuning knobs, so one
// Dispatcher instance is shared by every running competition.
type Dispatcher struct {
	vault            *security.Vault
	perTurnTimeout   time.Duration
	maxResponseBytes int64
}

// NewDispatcher builds a Dispatcher. perTurnTimeout and maxResponseBytes
// come from config.DispatchConfig.
func NewDispatcher(vault *security.Vault, perTurnTimeout time.Duration, maxResponseBytes int64) *Dispatcher {
	return &Dispatcher{
		vault:            vault,
		perTurnTimeout:   perTurnTimeout,
		maxResponseBytes: maxResponseBytes,
	}
}

// Dispatch sends payload to agent over whichever transport its Kind
// requires and returns the tagged result. Never returns a Go error: every
// failure mode (timeout, transport error, bad status, invalid schema,
// upstream error) is represented as a TurnResult.Kind so the caller can
// score and persist uniformly.
func (d *Dispatcher) Dispatch(ctx context.Context, agent *core.Agent, payload *TurnPayload) *TurnResult {
	switch agent.Kind {
	case core.AgentKindWebhook:
		return dispatchWebhook(ctx, agent, payload, d.perTurnTimeout, d.maxResponseBytes)

	case core.AgentKindAPIKey:
		plaintext, err := d.vault.Decrypt(agent.EncryptedKeyBlob)
		if err != nil {
			return &TurnResult{
				Kind:         core.TurnUpstreamError,
				ErrorMessage: "failed to decrypt stored API key: " + err.Error(),
				CompletedAt:  time.Now(),
			}
		}
		return dispatchAPIKey(ctx, agent, payload, string(plaintext), d.perTurnTimeout)

	default:
		return &TurnResult{
			Kind:         core.TurnUpstreamError,
			ErrorMessage: "agent has no recognized dispatch kind",
			CompletedAt:  time.Now(),
		}
	}
}
