// Package core holds the domain types shared across the competition
// orchestration subsystem: agents, competitions, participants, turn events,
// leaderboards, rating history and the meta-market/portfolio entities.
package core

import "time"

// AgentKind distinguishes the two ways a dispatcher can reach an agent.
type AgentKind string

const (
	AgentKindWebhook AgentKind = "webhook"
	AgentKindAPIKey  AgentKind = "api_key"
)

// VerificationStatus tracks whether an agent's credentials have been probed.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// VerificationValidity is how long a "verified" status is trusted.
const VerificationValidity = 24 * time.Hour

// Agent is a registered competitor: either a webhook-backed bot or an
// API-key-backed LLM agent.
type Agent struct {
	ID       string
	Slug     string
	OwnerID  string
	TenantID string
	Kind     AgentKind
	Public   bool

	Persona     string
	StrategyTag string

	// Webhook credentials (set when Kind == AgentKindWebhook).
	WebhookURL    string
	WebhookSecret string

	// API-key credentials (set when Kind == AgentKindAPIKey).
	ProviderTag      string
	ModelName        string
	EncryptedKeyBlob string

	Rating     float64
	Deviation  float64
	Volatility float64

	VerificationStatus VerificationStatus
	LastVerifiedAt     time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultRating, DefaultDeviation and DefaultVolatility seed new agents per
// the Glicko-2 convention.
const (
	DefaultRating     = 1500.0
	DefaultDeviation  = 350.0
	DefaultVolatility = 0.06
)

// IsVerified reports whether the agent's verification is still fresh.
func (a *Agent) IsVerified(now time.Time) bool {
	return a.VerificationStatus == VerificationVerified &&
		now.Sub(a.LastVerifiedAt) < VerificationValidity
}

// CompetitionStatus is the lifecycle state of a competition.
type CompetitionStatus string

const (
	CompetitionLobby     CompetitionStatus = "lobby"
	CompetitionRunning   CompetitionStatus = "running"
	CompetitionCompleted CompetitionStatus = "completed"
	CompetitionCancelled CompetitionStatus = "cancelled"
)

// StakeMode controls whether a competition moves sandbox chips, spectator
// points, or (never, in this core) real money.
type StakeMode string

const (
	StakeSandbox   StakeMode = "sandbox"
	StakeSpectator StakeMode = "spectator"
	StakeReal      StakeMode = "real"
)

const (
	MinParticipants = 2
	MaxParticipants = 64
)

// Competition is one scheduled contest of agents over an ordered task list.
type Competition struct {
	ID              string
	Name            string
	CreatorID       string
	TenantID        string
	DomainTag       string
	Status          CompetitionStatus
	StakeMode       StakeMode
	EntryFee        float64
	MaxParticipants int
	TaskIDs         []string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Participant is one (competition, agent) join.
type Participant struct {
	CompetitionID string
	AgentID       string
	JoinedAt      time.Time
}

// TurnResultKind tags a dispatch outcome.
type TurnResultKind string

const (
	TurnOK              TurnResultKind = "ok"
	TurnTimeout         TurnResultKind = "timeout"
	TurnTransportError  TurnResultKind = "transport_error"
	TurnBadStatus       TurnResultKind = "bad_status"
	TurnInvalidResponse TurnResultKind = "invalid_response"
	TurnUpstreamError   TurnResultKind = "upstream_error"
)

// Event is one turn record: one dispatch of one task to one agent.
type Event struct {
	CompetitionID string
	TaskID        string
	AgentID       string
	TurnIndex     int

	Kind         TurnResultKind
	RawResponse  string
	ErrorMessage string

	Score     float64
	ElapsedMS int64

	CreatedAt time.Time
}

// LeaderboardEntry is the derived, rebuilt-after-every-event standing.
type LeaderboardEntry struct {
	AgentID         string
	TotalScore      float64
	EventsWon       int
	EventsCompleted int
	Rank            int
}

// EloHistory records one participant's rating change for one competition.
type EloHistory struct {
	AgentID       string
	CompetitionID string
	DomainTag     string

	RatingBefore float64
	RatingAfter  float64
	RDBefore     float64
	RDAfter      float64
	VolBefore    float64
	VolAfter     float64

	RatingChange     float64
	FinalRank        int
	ParticipantCount int

	CreatedAt time.Time
}

// MetaMarketStatus is the lifecycle of a derivative prediction market.
type MetaMarketStatus string

const (
	MarketOpen      MetaMarketStatus = "open"
	MarketLocked    MetaMarketStatus = "locked"
	MarketResolved  MetaMarketStatus = "resolved"
	MarketCancelled MetaMarketStatus = "cancelled"
)

// MarketOutcome is one bettable outcome of a meta-market (typically one per
// participating agent).
type MarketOutcome struct {
	OutcomeID   string
	DisplayName string
	InitialOdds int // American odds
}

// MetaMarket is the derivative "who will win" market tied to a competition.
type MetaMarket struct {
	ID              string
	CompetitionID   string
	Status          MetaMarketStatus
	Outcomes        []MarketOutcome
	CurrentOdds     map[string]int // outcomeID -> American odds
	TotalVolume     float64
	TotalBets       int
	ResolvedOutcome string

	CreatedAt  time.Time
	LockedAt   time.Time
	ResolvedAt time.Time
}

// BetSide is the binary side of a CPMM position.
type BetSide string

const (
	SideYes BetSide = "YES"
	SideNo  BetSide = "NO"
)

// MetaBetStatus tracks settlement.
type MetaBetStatus string

const (
	BetActive   MetaBetStatus = "active"
	BetWon      MetaBetStatus = "won"
	BetLost     MetaBetStatus = "lost"
	BetRefunded MetaBetStatus = "refunded"
)

// MetaBet is one wager placed by a user against a market outcome.
type MetaBet struct {
	ID              string
	UserID          string
	MarketID        string
	OutcomeID       string
	Amount          float64
	OddsAtBet       int
	PotentialPayout float64
	Status          MetaBetStatus
	CreatedAt       time.Time
}

// Position is an open CPMM share holding.
type Position struct {
	MarketID    string
	OutcomeID   string
	Shares      float64
	AverageCost float64
}

// VirtualPortfolio is one agent's sandbox balance and betting history for a
// single competition.
type VirtualPortfolio struct {
	AgentID         string
	CompetitionID   string
	StartingBalance float64
	CurrentBalance  float64
	Positions       []Position
	Bets            []MetaBet

	RealizedPnL float64
}

// StreamEvent is the wire/ring-buffer record fanned out by the EventBus.
type StreamEvent struct {
	Type          string
	CompetitionID string
	Timestamp     time.Time
	Payload       map[string]interface{}
}

// Snapshot is the minimal durable state needed to reconcile a running
// competition across a process restart.
type Snapshot struct {
	CompetitionID string
	Name          string
	Status        CompetitionStatus
	TurnIndex     int
	PersistedAt   time.Time
}

// ScoringMethod selects which pure scoring function a task uses.
type ScoringMethod string

const (
	ScoreByTime          ScoringMethod = "time"
	ScoreByAccuracy      ScoringMethod = "accuracy"
	ScoreByMultiCriteria ScoringMethod = "multi_criteria"
)

// Task is the static catalogue entry describing one competition stage.
type Task struct {
	ID            string
	SystemPrompt  string
	TaskPrompt    string
	StartURL      string
	ScoringMethod ScoringMethod
	MaxScore      float64
	TimeLimitSec  int

	// Accuracy scoring: number of fields the agent's response must match.
	RequiredFields int

	// Multi-criteria scoring: weighted dimensions declared by the task.
	Criteria []Criterion
}

// Criterion is one weighted dimension of a multi-criteria score, declared by
// the task. MatchedFields/CriteriaMet on a turn result are evaluated against
// these declarations by the Scorer.
type Criterion struct {
	Name   string
	Weight float64
}
