package commit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvas-backend/internal/model"
	"canvas-backend/internal/store"
)

// Result classifies what a commit attempt did.
type Result int

const (
	// Committed means exactly one version-incrementing write landed.
	Committed Result = iota
	// Dropped means the write lost the CAS race twice and was abandoned.
	Dropped
	// Skipped means the record was gone or the write was not permitted;
	// both are expected races and not errors.
	Skipped
)

// Outcome reports a finished commit. RequestID identifies the write in the
// record's audit fields so optimistic callers can recognize their own
// confirmation in a later snapshot.
type Outcome struct {
	Result     Result
	NewVersion int64
	RequestID  string
}

// Service issues compare-and-swap patch writes with a single rebase retry.
// Expected races (conflict after retry, missing record, permission) never
// propagate past here; anything else does.
type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// Commit reads the current record, applies the patch on top of it with
// version+1, and writes gated on the read version. On conflict it re-reads
// and reapplies the same field patch on the newer base, then tries once
// more; independent fields merge naturally because patches are partial. A
// second conflict drops the write with a warning. At most one successful
// write happens per call.
func (s *Service) Commit(ctx context.Context, shapeID string, patch model.ShapePatch, actorID string) (Outcome, error) {
	requestID := uuid.NewString()
	meta := store.WriteMeta{Actor: actorID, RequestID: requestID}

	cur, err := s.store.Read(ctx, shapeID)
	if err != nil {
		return s.expected(shapeID, requestID, err)
	}

	newVersion, err := s.store.Write(ctx, shapeID, patch, cur.Version, meta)
	if err == nil {
		return Outcome{Result: Committed, NewVersion: newVersion, RequestID: requestID}, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return s.expected(shapeID, requestID, err)
	}

	// Lost the race: rebase on the winner's result and retry once.
	cur, err = s.store.Read(ctx, shapeID)
	if err != nil {
		return s.expected(shapeID, requestID, err)
	}
	newVersion, err = s.store.Write(ctx, shapeID, patch, cur.Version, meta)
	if err == nil {
		return Outcome{Result: Committed, NewVersion: newVersion, RequestID: requestID}, nil
	}
	if errors.Is(err, store.ErrConflict) {
		s.log.Warn("commit dropped after retry conflict", zap.String("shape", shapeID))
		return Outcome{Result: Dropped, RequestID: requestID}, nil
	}
	return s.expected(shapeID, requestID, err)
}

// Reparent atomically moves a shape under a new parent with converted local
// coordinates, with the same retry-once policy as Commit.
func (s *Service) Reparent(ctx context.Context, shapeID string, newParentID *string, localX, localY, orderKey float64, actorID string) (Outcome, error) {
	requestID := uuid.NewString()
	meta := store.WriteMeta{Actor: actorID, RequestID: requestID}

	cur, err := s.store.Read(ctx, shapeID)
	if err != nil {
		return s.expected(shapeID, requestID, err)
	}

	newVersion, err := s.store.Reparent(ctx, shapeID, newParentID, localX, localY, orderKey, cur.Version, meta)
	if err == nil {
		return Outcome{Result: Committed, NewVersion: newVersion, RequestID: requestID}, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return s.expected(shapeID, requestID, err)
	}

	cur, err = s.store.Read(ctx, shapeID)
	if err != nil {
		return s.expected(shapeID, requestID, err)
	}
	newVersion, err = s.store.Reparent(ctx, shapeID, newParentID, localX, localY, orderKey, cur.Version, meta)
	if err == nil {
		return Outcome{Result: Committed, NewVersion: newVersion, RequestID: requestID}, nil
	}
	if errors.Is(err, store.ErrConflict) {
		s.log.Warn("reparent dropped after retry conflict", zap.String("shape", shapeID))
		return Outcome{Result: Dropped, RequestID: requestID}, nil
	}
	return s.expected(shapeID, requestID, err)
}

// expected swallows the race errors the policy treats as no-ops and
// propagates everything else.
func (s *Service) expected(shapeID, requestID string, err error) (Outcome, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Debug("commit skipped, shape gone", zap.String("shape", shapeID))
		return Outcome{Result: Skipped, RequestID: requestID}, nil
	case errors.Is(err, store.ErrPermissionDenied):
		s.log.Debug("commit skipped, permission denied", zap.String("shape", shapeID))
		return Outcome{Result: Skipped, RequestID: requestID}, nil
	default:
		return Outcome{RequestID: requestID}, err
	}
}
