package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	supabase "github.com/supabase-community/supabase-go"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/infra"
)

// newRedisDialer connects to Redis via the shared infra adapter. Returns a
// redisClient so DurableStore never imports go-redis types directly.
func newRedisDialer(addr, password string, db int) (redisClient, error) {
	return infra.NewGoRedisAdapter(addr, password, db)
}

// DurableStore is the Supabase-backed persistence layer for the competition
// core. It satisfies competition.Store, competition.SnapshotStore,
// competition.PortfolioLookup, rating.Store and market.CompetitionLookup —
// one concrete type behind every narrow interface those packages declare,
// the same shape the teacher's SupabaseClient served for its own domain.
//
// sqlDB is an optional direct-Postgres connection (lib/pq) used only for the
// query the REST query builder can't express cleanly: the
// leaderboard-winner aggregate behind LookupOutcome. Every other method
// goes through the supabase-go fluent builder, matching the teacher's style.
type DurableStore struct {
	client *supabase.Client
	sqlDB  *sql.DB
	cache  *agentCache
	logger *log.Logger
}

// NewDurableStore builds a DurableStore from environment variables, mirroring
// the teacher's NewSupabaseClient. SUPABASE_URL and SUPABASE_SERVICE_KEY are
// required; DATABASE_URL (a direct Postgres DSN) and REDIS_ADDR are optional
// — their absence degrades gracefully rather than failing startup.
func NewDurableStore() (*DurableStore, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}

	ds := &DurableStore{
		client: client,
		logger: log.New(log.Writer(), "[DB] ", log.LstdFlags),
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			ds.logger.Printf("direct postgres connection unavailable, join queries will degrade: %v", err)
		} else {
			ds.sqlDB = db
		}
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc, err := newRedisDialer(addr, os.Getenv("REDIS_PASSWORD"), redisDBFromEnv())
		if err != nil {
			ds.logger.Printf("redis cache unavailable, falling back to direct reads: %v", err)
		} else {
			ds.cache = newAgentCache(rc, 30*time.Second)
		}
	}

	return ds, nil
}

func redisDBFromEnv() int {
	n, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil {
		return 0
	}
	return n
}

// Close releases the direct Postgres connection, if one was opened.
func (ds *DurableStore) Close() error {
	if ds.sqlDB != nil {
		return ds.sqlDB.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Agents (shared by competition.Store and rating.Store)
// ---------------------------------------------------------------------------

func (ds *DurableStore) GetAgent(ctx context.Context, agentID string) (*core.Agent, error) {
	if a, ok := ds.cache.get(ctx, agentID); ok {
		return a, nil
	}

	var rows []agentRow
	_, err := ds.client.From("agents").
		Select("*", "", false).
		Eq("agent_id", agentID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound("agent %q", agentID)
	}

	a := agentFromRow(&rows[0])
	ds.cache.set(ctx, a)
	return a, nil
}

func (ds *DurableStore) UpdateAgentRating(ctx context.Context, agentID string, rating, deviation, volatility float64) error {
	patch := map[string]interface{}{
		"rating":     rating,
		"deviation":  deviation,
		"volatility": volatility,
		"updated_at": formatTime(time.Now()),
	}
	_, _, err := ds.client.From("agents").
		Update(patch, "", "").
		Eq("agent_id", agentID).
		Execute()
	if err != nil {
		return fmt.Errorf("update agent rating %s: %w", agentID, err)
	}
	ds.cache.invalidate(ctx, agentID)
	return nil
}

func (ds *DurableStore) InsertEloHistory(ctx context.Context, h *core.EloHistory) error {
	row := eloHistoryRow{
		AgentID:          h.AgentID,
		CompetitionID:    h.CompetitionID,
		DomainTag:        h.DomainTag,
		RatingBefore:     h.RatingBefore,
		RatingAfter:      h.RatingAfter,
		RDBefore:         h.RDBefore,
		RDAfter:          h.RDAfter,
		VolBefore:        h.VolBefore,
		VolAfter:         h.VolAfter,
		RatingChange:     h.RatingChange,
		FinalRank:        h.FinalRank,
		ParticipantCount: h.ParticipantCount,
		CreatedAt:        formatTime(h.CreatedAt),
	}
	_, _, err := ds.client.From("elo_history").
		Insert(row, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert elo history for %s: %w", h.AgentID, err)
	}
	return nil
}

func agentFromRow(r *agentRow) *core.Agent {
	return &core.Agent{
		ID:                 r.AgentID,
		Slug:               r.Slug,
		OwnerID:            r.OwnerID,
		TenantID:           r.TenantID,
		Kind:               core.AgentKind(r.Kind),
		Public:             r.Public,
		Persona:            r.Persona,
		StrategyTag:        r.StrategyTag,
		WebhookURL:         r.WebhookURL,
		WebhookSecret:      r.WebhookSecret,
		ProviderTag:        r.ProviderTag,
		ModelName:          r.ModelName,
		EncryptedKeyBlob:   r.EncryptedKeyBlob,
		Rating:             r.Rating,
		Deviation:          r.Deviation,
		Volatility:         r.Volatility,
		VerificationStatus: core.VerificationStatus(r.VerificationStatus),
		LastVerifiedAt:     parseTime(r.LastVerifiedAt),
		CreatedAt:          parseTime(r.CreatedAt),
		UpdatedAt:          parseTime(r.UpdatedAt),
	}
}
