// Package database is the Supabase/Postgres-backed durable store for the
// competition orchestration core, with a Redis read-through cache in front
// of its hottest lookups.
package database

import (
	"encoding/json"
	"time"
)

// Row types mirror the Supabase tables this store reads and writes.
// Timestamps are strings (Supabase's REST layer returns RFC 3339 text, not
// a native time type) and are converted at the boundary by parseTime and
// formatTime in this file.

type agentRow struct {
	AgentID            string  `json:"agent_id"`
	Slug               string  `json:"slug"`
	OwnerID            string  `json:"owner_id"`
	TenantID           string  `json:"tenant_id"`
	Kind               string  `json:"kind"`
	Public             bool    `json:"public"`
	Persona            string  `json:"persona"`
	StrategyTag        string  `json:"strategy_tag"`
	WebhookURL         string  `json:"webhook_url,omitempty"`
	WebhookSecret      string  `json:"webhook_secret,omitempty"`
	ProviderTag        string  `json:"provider_tag,omitempty"`
	ModelName          string  `json:"model_name,omitempty"`
	EncryptedKeyBlob   string  `json:"encrypted_key_blob,omitempty"`
	Rating             float64 `json:"rating"`
	Deviation          float64 `json:"deviation"`
	Volatility         float64 `json:"volatility"`
	VerificationStatus string  `json:"verification_status"`
	LastVerifiedAt     string  `json:"last_verified_at,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

type competitionRow struct {
	CompetitionID   string   `json:"competition_id"`
	Name            string   `json:"name"`
	CreatorID       string   `json:"creator_id"`
	TenantID        string   `json:"tenant_id"`
	DomainTag       string   `json:"domain_tag"`
	Status          string   `json:"status"`
	StakeMode       string   `json:"stake_mode"`
	EntryFee        float64  `json:"entry_fee"`
	MaxParticipants int      `json:"max_participants"`
	TaskIDs         []string `json:"task_ids"`
	CreatedAt       string   `json:"created_at,omitempty"`
	StartedAt       string   `json:"started_at,omitempty"`
	CompletedAt     string   `json:"completed_at,omitempty"`
}

type participantRow struct {
	CompetitionID string `json:"competition_id"`
	AgentID       string `json:"agent_id"`
	JoinedAt      string `json:"joined_at,omitempty"`
}

type eventRow struct {
	CompetitionID string  `json:"competition_id"`
	TaskID        string  `json:"task_id"`
	AgentID       string  `json:"agent_id"`
	TurnIndex     int     `json:"turn_index"`
	Kind          string  `json:"kind"`
	RawResponse   string  `json:"raw_response,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	Score         float64 `json:"score"`
	ElapsedMS     int64   `json:"elapsed_ms"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

type eloHistoryRow struct {
	AgentID          string  `json:"agent_id"`
	CompetitionID    string  `json:"competition_id"`
	DomainTag        string  `json:"domain_tag"`
	RatingBefore     float64 `json:"rating_before"`
	RatingAfter      float64 `json:"rating_after"`
	RDBefore         float64 `json:"rd_before"`
	RDAfter          float64 `json:"rd_after"`
	VolBefore        float64 `json:"vol_before"`
	VolAfter         float64 `json:"vol_after"`
	RatingChange     float64 `json:"rating_change"`
	FinalRank        int     `json:"final_rank"`
	ParticipantCount int     `json:"participant_count"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

type snapshotRow struct {
	CompetitionID string `json:"competition_id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	TurnIndex     int    `json:"turn_index"`
	PersistedAt   string `json:"persisted_at,omitempty"`
}

// portfolioRow stores one agent's sandbox balance per competition.
// Positions and Bets are kept as JSONB rather than normalized tables: a
// portfolio's open positions are always read and written as one unit (there
// is no query that needs "all positions across every portfolio"), so
// normalizing them would only add joins with no benefit — the same
// embedded-JSON-column idiom the teacher uses for
// TenantGovernanceConfigRow.RiskMultipliers.
type portfolioRow struct {
	AgentID         string          `json:"agent_id"`
	CompetitionID   string          `json:"competition_id"`
	StartingBalance float64         `json:"starting_balance"`
	CurrentBalance  float64         `json:"current_balance"`
	RealizedPnL     float64         `json:"realized_pnl"`
	Positions       json.RawMessage `json:"positions"`
	Bets            json.RawMessage `json:"bets"`
}

// marketRow is the durable record of a meta-market's link to its
// competition and its terminal outcome. internal/market.Engine itself keeps
// live market state in memory (odds, open positions); this row exists so
// PortfoliosForMarket can resolve a market_id back to its
// competition after a process restart, when the Engine's memory is gone.
type marketRow struct {
	MarketID        string `json:"market_id"`
	CompetitionID   string `json:"competition_id"`
	Status          string `json:"status"`
	ResolvedOutcome string `json:"resolved_outcome,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
