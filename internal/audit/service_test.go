package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryTimelineRepo struct {
	rows []TimelineRow
	err  error
}

func (r *memoryTimelineRepo) filter(filters TimelineFilters) []TimelineRow {
	var out []TimelineRow
	for _, row := range r.rows {
		if !filters.From.IsZero() && row.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !row.At.Before(filters.To) {
			continue
		}
		if filters.Actor != 0 && row.ActorID != filters.Actor {
			continue
		}
		if filters.Entity != "" && row.Entity != filters.Entity {
			continue
		}
		if filters.Action != "" && row.Action != filters.Action {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (r *memoryTimelineRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	if r.err != nil {
		return nil, r.err
	}
	rows := r.filter(filters)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *memoryTimelineRepo) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.filter(filters), nil
}

func seedRows(n int) []TimelineRow {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	rows := make([]TimelineRow, n)
	for i := range rows {
		rows[i] = TimelineRow{
			At:       base.Add(time.Duration(i) * time.Minute),
			ActorID:  int64(i%3 + 1),
			Action:   "patients.view",
			Entity:   "patient",
			EntityID: "100",
		}
	}
	return rows
}

func TestTimelinePaging(t *testing.T) {
	repo := &memoryTimelineRepo{rows: seedRows(45)}
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.Timeline(ctx, TimelineFilters{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, first.Rows, 20)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)
	require.Zero(t, first.Paging.PrevPage)

	last, err := svc.Timeline(ctx, TimelineFilters{Page: 3, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, last.Rows, 5)
	require.False(t, last.Paging.HasNext)
	require.Equal(t, 2, last.Paging.PrevPage)
}

func TestTimelinePageSizeBounds(t *testing.T) {
	repo := &memoryTimelineRepo{rows: seedRows(80)}
	svc := NewService(repo)
	ctx := context.Background()

	defaulted, err := svc.Timeline(ctx, TimelineFilters{})
	require.NoError(t, err)
	require.Len(t, defaulted.Rows, 20)

	capped, err := svc.Timeline(ctx, TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, capped.Rows, 50)
}

func TestTimelineFilters(t *testing.T) {
	repo := &memoryTimelineRepo{rows: seedRows(10)}
	repo.rows[4].Action = "grants.create"
	repo.rows[4].Entity = "resource_grant"
	svc := NewService(repo)
	ctx := context.Background()

	byAction, err := svc.Timeline(ctx, TimelineFilters{Action: "grants.create"})
	require.NoError(t, err)
	require.Len(t, byAction.Rows, 1)

	byActor, err := svc.Timeline(ctx, TimelineFilters{Actor: 2})
	require.NoError(t, err)
	for _, row := range byActor.Rows {
		require.Equal(t, int64(2), row.ActorID)
	}

	windowed, err := svc.Timeline(ctx, TimelineFilters{
		From: repo.rows[5].At,
		To:   repo.rows[8].At,
	})
	require.NoError(t, err)
	require.Len(t, windowed.Rows, 3)
}

func TestTimelineRepoError(t *testing.T) {
	repo := &memoryTimelineRepo{err: errors.New("down")}
	svc := NewService(repo)

	_, err := svc.Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	repo := &memoryTimelineRepo{rows: []TimelineRow{
		{
			At:       time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
			ActorID:  1,
			Action:   "authz.denied",
			Entity:   "patient",
			EntityID: "100",
			Meta:     map[string]any{"permission": "patients.view"},
		},
		{
			At:       time.Date(2026, 5, 1, 8, 1, 0, 0, time.UTC),
			ActorID:  2,
			Action:   "patients.view",
			Entity:   "patient",
			EntityID: "100",
		},
	}}
	svc := NewService(repo)

	data, err := svc.ExportCSV(context.Background(), TimelineFilters{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "occurred_at,actor_id,action,entity,entity_id,meta", lines[0])
	require.Contains(t, lines[1], "authz.denied")
	require.Contains(t, lines[1], `patients.view`)
	require.Contains(t, lines[2], "2026-05-01T08:01:00Z")
}
