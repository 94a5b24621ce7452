package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

func (s *GRPCServer) TriggerSync(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	runID, err := s.engine.Start(ctx, services.Trigger{Principal: *p, Source: models.SourceGRPC, Request: requestContext(ctx)})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, status.Error(codes.AlreadyExists, "sync_already_running")
		}
		s.logger.Error(ctx, "trigger sync", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	s.logger.Info(ctx, "sync triggered", "run_id", runID, "principal_id", p.ID)
	return structpb.NewStruct(map[string]any{"run_id": runID})
}

func (s *GRPCServer) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		s.logger.Error(ctx, "sync status", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	marks := make([]any, 0, len(st.Watermarks))
	for _, w := range st.Watermarks {
		marks = append(marks, map[string]any{"entity": w.Entity, "marker": w.Marker.Format(time.RFC3339Nano)})
	}

	return structpb.NewStruct(map[string]any{
		"running":       runFields(st.Running),
		"last_finished": runFields(st.LastFinished),
		"watermarks":    marks,
	})
}

func (s *GRPCServer) AbortSync(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID := in.GetFields()["run_id"].GetStringValue()
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}

	p, _ := auth.PrincipalFromContext(ctx)
	if err := s.engine.Abort(ctx, runID, p, requestContext(ctx)); err != nil {
		if errors.Is(err, common.ErrNotRunning) {
			return nil, status.Error(codes.NotFound, "not_running")
		}
		s.logger.Error(ctx, "abort sync", "run_id", runID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return structpb.NewStruct(map[string]any{"run_id": runID, "status": "aborting"})
}

// runFields renders a run for a Struct; nil becomes a null value.
func runFields(h *models.SyncHistory) any {
	if h == nil {
		return nil
	}
	m := map[string]any{
		"id":             h.ID,
		"status":         h.Status(),
		"started_at":     h.StartedAt.Format(time.RFC3339Nano),
		"triggered_by":   h.TriggeredBy,
		"trigger_source": string(h.TriggerSource),
	}
	if h.FinishedAt != nil {
		m["finished_at"] = h.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}
