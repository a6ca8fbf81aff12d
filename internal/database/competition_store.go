package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ocx/backend/internal/core"
)

// GetCompetition satisfies competition.Store.
func (ds *DurableStore) GetCompetition(ctx context.Context, id string) (*core.Competition, error) {
	var rows []competitionRow
	_, err := ds.client.From("competitions").
		Select("*", "", false).
		Eq("competition_id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("get competition %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound("competition %q", id)
	}
	r := rows[0]
	return &core.Competition{
		ID:              r.CompetitionID,
		Name:            r.Name,
		CreatorID:       r.CreatorID,
		TenantID:        r.TenantID,
		DomainTag:       r.DomainTag,
		Status:          core.CompetitionStatus(r.Status),
		StakeMode:       core.StakeMode(r.StakeMode),
		EntryFee:        r.EntryFee,
		MaxParticipants: r.MaxParticipants,
		TaskIDs:         r.TaskIDs,
		CreatedAt:       parseTime(r.CreatedAt),
		StartedAt:       parseTime(r.StartedAt),
		CompletedAt:     parseTime(r.CompletedAt),
	}, nil
}

// ListParticipants satisfies competition.Store.
func (ds *DurableStore) ListParticipants(ctx context.Context, competitionID string) ([]core.Participant, error) {
	var rows []participantRow
	_, err := ds.client.From("participants").
		Select("*", "", false).
		Eq("competition_id", competitionID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list participants for %s: %w", competitionID, err)
	}
	out := make([]core.Participant, len(rows))
	for i, r := range rows {
		out[i] = core.Participant{
			CompetitionID: r.CompetitionID,
			AgentID:       r.AgentID,
			JoinedAt:      parseTime(r.JoinedAt),
		}
	}
	return out, nil
}

// InsertEvent satisfies competition.Store: one row per dispatched turn.
func (ds *DurableStore) InsertEvent(ctx context.Context, ev *core.Event) error {
	row := eventRow{
		CompetitionID: ev.CompetitionID,
		TaskID:        ev.TaskID,
		AgentID:       ev.AgentID,
		TurnIndex:     ev.TurnIndex,
		Kind:          string(ev.Kind),
		RawResponse:   ev.RawResponse,
		ErrorMessage:  ev.ErrorMessage,
		Score:         ev.Score,
		ElapsedMS:     ev.ElapsedMS,
		CreatedAt:     formatTime(ev.CreatedAt),
	}
	_, _, err := ds.client.From("events").
		Insert(row, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("insert event for %s/%s: %w", ev.CompetitionID, ev.AgentID, err)
	}
	return nil
}

// TransitionCompetition satisfies competition.Store: a conditional update
// scoped to both id and the expected current status, so two callers racing
// to admit or cancel the same competition can't both win. The update's
// WHERE clause (id AND status=from) makes this atomic at the database; an
// empty result means either the row doesn't exist or it wasn't in status
// from, both of which are reported the same way to the caller.
func (ds *DurableStore) TransitionCompetition(ctx context.Context, id string, from, to core.CompetitionStatus) error {
	patch := map[string]interface{}{"status": string(to)}
	if to == core.CompetitionRunning {
		patch["started_at"] = formatTime(time.Now())
	}
	if to == core.CompetitionCompleted || to == core.CompetitionCancelled {
		patch["completed_at"] = formatTime(time.Now())
	}

	var rows []competitionRow
	_, err := ds.client.From("competitions").
		Update(patch, "", "").
		Eq("competition_id", id).
		Eq("status", string(from)).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("transition competition %s: %w", id, err)
	}
	if len(rows) == 0 {
		return core.ErrState("competition %q is not %q, transition to %q refused", id, from, to)
	}
	return nil
}

// SaveSnapshot satisfies competition.SnapshotStore: upserted by
// competition_id so repeated snapshots of the same run overwrite rather
// than accumulate.
func (ds *DurableStore) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	row := snapshotRow{
		CompetitionID: snap.CompetitionID,
		Name:          snap.Name,
		Status:        string(snap.Status),
		TurnIndex:     snap.TurnIndex,
		PersistedAt:   formatTime(snap.PersistedAt),
	}
	_, _, err := ds.client.From("competition_snapshots").
		Upsert(row, "competition_id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.CompetitionID, err)
	}
	return nil
}

// DeleteSnapshot satisfies competition.SnapshotStore.
func (ds *DurableStore) DeleteSnapshot(ctx context.Context, competitionID string) error {
	_, _, err := ds.client.From("competition_snapshots").
		Delete("", "").
		Eq("competition_id", competitionID).
		Execute()
	if err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", competitionID, err)
	}
	return nil
}

// ListSnapshots satisfies competition.SnapshotStore: every row present at
// startup is, by definition, one a prior process never cleaned up.
func (ds *DurableStore) ListSnapshots(ctx context.Context) ([]*core.Snapshot, error) {
	var rows []snapshotRow
	_, err := ds.client.From("competition_snapshots").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]*core.Snapshot, len(rows))
	for i, r := range rows {
		out[i] = &core.Snapshot{
			CompetitionID: r.CompetitionID,
			Name:          r.Name,
			Status:        core.CompetitionStatus(r.Status),
			TurnIndex:     r.TurnIndex,
			PersistedAt:   parseTime(r.PersistedAt),
		}
	}
	return out, nil
}
