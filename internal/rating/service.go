package rating

import (
	"context"
	"log"
	"time"

	"github.com/ocx/backend/internal/core"
)

// Store is the persistence surface RatingService needs: fetching current
// agent rating state and writing back the post-competition EloHistory rows.
// Implemented by internal/database.DurableStore.
type Store interface {
	GetAgent(ctx context.Context, agentID string) (*core.Agent, error)
	UpdateAgentRating(ctx context.Context, agentID string, rating, deviation, volatility float64) error
	InsertEloHistory(ctx context.Context, h *core.EloHistory) error
}

// DomainRatingUpserter is the optional Cloud Spanner sink for cross-domain
// leaderboards (spec.md §4.6's "domain rating" concept: an agent's rating
// within one DomainTag, e.g. "coding" vs "negotiation", tracked separately
// from its overall rating). Nil when Spanner isn't configured.
type DomainRatingUpserter interface {
	UpsertDomainRating(ctx context.Context, agentID, domainTag string, rating float64) error
}

// Service runs Glicko-2 rating updates for a completed competition.
type Service struct {
	store    Store
	domain   DomainRatingUpserter // may be nil
	tau      float64
	logger   *log.Logger
}

// NewService builds a rating Service. domain may be nil to skip the
// optional Spanner domain-rating sink.
func NewService(store Store, domain DomainRatingUpserter, tau float64) *Service {
	if tau <= 0 {
		tau = 0.5
	}
	return &Service{
		store:  store,
		domain: domain,
		tau:    tau,
		logger: log.New(log.Writer(), "[RATING] ", log.LstdFlags),
	}
}

// ParticipantStanding is one agent's final standing in a completed
// competition, used to derive pairwise Glicko-2 results.
type ParticipantStanding struct {
	AgentID    string
	FinalScore float64
	FinalRank  int
}

// ApplyCompetitionResult runs a round-robin Glicko-2 update across every
// participant in standings and persists the result. Each participant's
// failure to persist is logged and skipped rather than aborting the whole
// batch — one bad row must not block every other participant's rating from
// landing (mirrors the teacher reputation manager's per-row tolerance).
func (s *Service) ApplyCompetitionResult(ctx context.Context, competitionID, domainTag string, standings []ParticipantStanding) {
	if len(standings) < 2 {
		return
	}

	states := make(map[string]PlayerState, len(standings))
	for _, st := range standings {
		agent, err := s.store.GetAgent(ctx, st.AgentID)
		if err != nil {
			s.logger.Printf("skip rating for %s: fetch agent: %v", st.AgentID, err)
			continue
		}
		states[st.AgentID] = PlayerState{
			AgentID:    agent.ID,
			Rating:     agent.Rating,
			Deviation:  agent.Deviation,
			Volatility: agent.Volatility,
		}
	}

	for _, st := range standings {
		before, ok := states[st.AgentID]
		if !ok {
			continue
		}

		var results []MatchResult
		for _, opp := range standings {
			if opp.AgentID == st.AgentID {
				continue
			}
			oppState, ok := states[opp.AgentID]
			if !ok {
				continue
			}
			results = append(results, MatchResult{Opponent: oppState, Score: pairwiseScore(st, opp)})
		}

		after := Update(before, results, s.tau)

		if err := s.store.UpdateAgentRating(ctx, st.AgentID, after.Rating, after.Deviation, after.Volatility); err != nil {
			s.logger.Printf("skip persisting rating for %s: %v", st.AgentID, err)
			continue
		}

		hist := &core.EloHistory{
			AgentID:          st.AgentID,
			CompetitionID:    competitionID,
			DomainTag:        domainTag,
			RatingBefore:     before.Rating,
			RatingAfter:      after.Rating,
			RDBefore:         before.Deviation,
			RDAfter:          after.Deviation,
			VolBefore:        before.Volatility,
			VolAfter:         after.Volatility,
			RatingChange:     after.Rating - before.Rating,
			FinalRank:        st.FinalRank,
			ParticipantCount: len(standings),
			CreatedAt:        time.Now(),
		}
		if err := s.store.InsertEloHistory(ctx, hist); err != nil {
			s.logger.Printf("failed to record elo history for %s: %v", st.AgentID, err)
		}

		if s.domain != nil && domainTag != "" {
			if err := s.domain.UpsertDomainRating(ctx, st.AgentID, domainTag, after.Rating); err != nil {
				s.logger.Printf("failed to upsert domain rating for %s/%s: %v", st.AgentID, domainTag, err)
			}
		}
	}
}

// pairwiseScore derives a Glicko-2 score in [0,1] for a against b from
// their final competition ranks: better rank wins, equal ranks draw.
func pairwiseScore(a, b ParticipantStanding) float64 {
	switch {
	case a.FinalRank < b.FinalRank:
		return 1
	case a.FinalRank > b.FinalRank:
		return 0
	default:
		return 0.5
	}
}
