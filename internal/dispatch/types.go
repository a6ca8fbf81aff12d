// Package dispatch sends one competition turn to one agent, either over an
// SSRF-guarded outbound webhook or via a provider LLM API call, and returns
// a uniformly-tagged TurnResult for the caller to score.
package dispatch

import (
	"time"

	"github.com/ocx/backend/internal/core"
)

// TurnPayload is the versioned request body sent to a webhook agent, or
// assembled into the provider-specific prompt for an API-key agent.
type TurnPayload struct {
	Version       int    `json:"version"`
	CompetitionID string `json:"competition_id"`
	TaskID        string `json:"task_id"`
	TurnIndex     int    `json:"turn_index"`
	SystemPrompt  string `json:"system_prompt"`
	TaskPrompt    string `json:"task_prompt"`
	StartURL      string `json:"start_url,omitempty"`
	TimeLimitSec  int    `json:"time_limit_sec"`
}

// TurnResponse is the schema a webhook agent (or the parsed tool-call output
// of an LLM agent) must satisfy.
type TurnResponse struct {
	Answer        string          `json:"answer"`
	MatchedFields int             `json:"matched_fields,omitempty"`
	CriteriaMet   map[string]bool `json:"criteria_met,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`

	// Done signals the agent considers the task finished; a controller's
	// turn loop for this participant on this task stops once it sees
	// Done == true, matching the webhook wire contract's done?:bool.
	Done bool `json:"done,omitempty"`
}

// TurnResult is the outcome of one Dispatch call, independent of whether the
// agent was reached over webhook or API key.
type TurnResult struct {
	Kind         core.TurnResultKind
	Response     *TurnResponse
	RawResponse  string
	ErrorMessage string
	ElapsedMS    int64
	CompletedAt  time.Time
}

// OK reports whether the dispatch reached the agent and got a well-formed
// response within the deadline.
func (r *TurnResult) OK() bool {
	return r.Kind == core.TurnOK
}
