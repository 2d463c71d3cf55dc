package audit

import (
	"context"
	"strconv"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Recorder persists audit log entries; *shared.AuditLogger satisfies it.
type Recorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DecisionSink adapts the audit log store to the authorization engine.
// Denials land as "authz.denied", internal evaluation failures as
// "authz.error"; the permission and resource context travel in meta.
type DecisionSink struct {
	recorder Recorder
}

// NewDecisionSink returns a sink writing into audit_logs.
func NewDecisionSink(recorder Recorder) *DecisionSink {
	return &DecisionSink{recorder: recorder}
}

// RecordDecision implements authz.AuditSink.
func (s *DecisionSink) RecordDecision(ctx context.Context, d authz.Decision) error {
	entity := "permission"
	entityID := string(d.Permission)
	if d.ResourceType != "" {
		entity = string(d.ResourceType)
		entityID = strconv.FormatInt(d.ResourceID, 10)
	}
	meta := map[string]any{
		"permission": string(d.Permission),
		"reason":     d.Reason,
	}
	if d.ResourceType != "" {
		meta["resource_type"] = string(d.ResourceType)
		meta["resource_id"] = d.ResourceID
	}
	return s.recorder.Record(ctx, shared.AuditLog{
		ActorID:  d.PrincipalID,
		Action:   "authz." + d.Outcome,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       d.At,
	})
}
