package rating

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/spanner"
)

// SpannerDomainRatings upserts per-domain agent ratings into Cloud Spanner,
// powering cross-competition domain leaderboards (e.g. an agent's rating
// across all "coding" competitions, independent of its overall rating).
// Optional: only constructed when config.PubSubConfig-adjacent Spanner
// settings are present; RatingService works without one.
type SpannerDomainRatings struct {
	client *spanner.Client
	logger *log.Logger
}

// NewSpannerDomainRatings connects to the DomainRatings Spanner database.
func NewSpannerDomainRatings(ctx context.Context, project, instance, database string) (*SpannerDomainRatings, error) {
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("spanner.NewClient: %w", err)
	}
	return &SpannerDomainRatings{
		client: client,
		logger: log.New(log.Writer(), "[RATING-SPANNER] ", log.LstdFlags),
	}, nil
}

// UpsertDomainRating writes the agent's rating for one domain tag. Spanner
// has no native UPSERT statement type usable from a mutation the way
// InsertOrUpdate is, so this uses spanner.InsertOrUpdate directly.
func (s *SpannerDomainRatings) UpsertDomainRating(ctx context.Context, agentID, domainTag string, rating float64) error {
	mutation := spanner.InsertOrUpdate("DomainRatings",
		[]string{"AgentID", "DomainTag", "Rating", "UpdatedAt"},
		[]interface{}{agentID, domainTag, rating, spanner.CommitTimestamp},
	)

	_, err := s.client.Apply(ctx, []*spanner.Mutation{mutation})
	if err != nil {
		return fmt.Errorf("upsert domain rating: %w", err)
	}
	return nil
}

// TopAgentsInDomain returns the highest-rated agents within a domain,
// powering the cross-competition domain leaderboard view.
func (s *SpannerDomainRatings) TopAgentsInDomain(ctx context.Context, domainTag string, limit int) (map[string]float64, error) {
	stmt := spanner.Statement{
		SQL: `SELECT AgentID, Rating FROM DomainRatings
		      WHERE DomainTag = @domainTag
		      ORDER BY Rating DESC
		      LIMIT @limit`,
		Params: map[string]interface{}{"domainTag": domainTag, "limit": int64(limit)},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	out := make(map[string]float64)
	for {
		row, err := iter.Next()
		if err != nil {
			break
		}
		var agentID string
		var rating float64
		if err := row.Columns(&agentID, &rating); err != nil {
			continue
		}
		out[agentID] = rating
	}
	return out, nil
}

// Close closes the Spanner client.
func (s *SpannerDomainRatings) Close() error {
	s.client.Close()
	return nil
}

var _ DomainRatingUpserter = (*SpannerDomainRatings)(nil)
