package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

type memoryRecorder struct {
	entries []shared.AuditLog
}

func (r *memoryRecorder) Record(ctx context.Context, log shared.AuditLog) error {
	r.entries = append(r.entries, log)
	return nil
}

func TestDecisionSinkResourceDenial(t *testing.T) {
	recorder := &memoryRecorder{}
	sink := NewDecisionSink(recorder)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	err := sink.RecordDecision(context.Background(), authz.Decision{
		PrincipalID:  3,
		Permission:   authz.PermPatientView,
		ResourceType: authz.ResourcePatient,
		ResourceID:   100,
		Outcome:      authz.OutcomeDenied,
		Reason:       "no active resource grant",
		At:           at,
	})
	require.NoError(t, err)
	require.Len(t, recorder.entries, 1)

	entry := recorder.entries[0]
	require.Equal(t, "authz.denied", entry.Action)
	require.Equal(t, "patient", entry.Entity)
	require.Equal(t, "100", entry.EntityID)
	require.Equal(t, int64(3), entry.ActorID)
	require.Equal(t, at, entry.At)
	require.Equal(t, "patients.view", entry.Meta["permission"])
	require.Equal(t, "no active resource grant", entry.Meta["reason"])
	require.Equal(t, int64(100), entry.Meta["resource_id"])
}

func TestDecisionSinkPermissionError(t *testing.T) {
	recorder := &memoryRecorder{}
	sink := NewDecisionSink(recorder)

	err := sink.RecordDecision(context.Background(), authz.Decision{
		PrincipalID: 3,
		Permission:  authz.PermUsersEdit,
		Outcome:     authz.OutcomeError,
		Reason:      "connection refused",
		At:          time.Now(),
	})
	require.NoError(t, err)

	entry := recorder.entries[0]
	require.Equal(t, "authz.error", entry.Action)
	require.Equal(t, "permission", entry.Entity)
	require.Equal(t, "users.edit", entry.EntityID)
	require.NotContains(t, entry.Meta, "resource_id")
}
