package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/rpc"
)

// RegisterRPC exposes the pool on s as the Consumer service: Submit,
// Status, Cancel and Health.
func RegisterRPC(s *rpc.Server, p *Pool) {
	s.Register(proto.MethodSubmit, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.SubmitRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, rpc.Errorf(proto.CodeInvalid, "decoding request: %v", err)
		}
		if req.Task.SourcePath == "" {
			return nil, rpc.Errorf(proto.CodeInvalid, "source_path is required")
		}
		id, err := p.Enqueue(ctx, req.Task)
		if err != nil {
			return nil, rpcError(err)
		}
		return proto.SubmitResponse{TaskID: id}, nil
	})

	s.Register(proto.MethodStatus, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.TaskRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, rpc.Errorf(proto.CodeInvalid, "decoding request: %v", err)
		}
		e, err := p.tasks.Get(ctx, req.TaskID)
		if err != nil {
			return nil, rpcError(err)
		}
		return proto.TaskStatus{
			TaskID:     e.Task.TaskID,
			Status:     e.Status,
			Reason:     string(e.Reason),
			Message:    e.Message,
			Attempts:   e.Attempts,
			Outcome:    e.Outcome,
			FinishedAt: e.FinishedAt,
		}, nil
	})

	s.Register(proto.MethodCancel, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.TaskRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, rpc.Errorf(proto.CodeInvalid, "decoding request: %v", err)
		}
		return proto.CancelResponse{Cancelled: p.Cancel(ctx, req.TaskID)}, nil
	})

	s.Register(proto.MethodHealth, func(ctx context.Context, _ json.RawMessage) (any, error) {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		status := "SERVING"
		if closed {
			status = "NOT_SERVING"
		}
		return proto.HealthResponse{Status: status, Queued: p.Stats().Queued}, nil
	})
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, store.ErrTaskExists):
		return rpc.Errorf(proto.CodeTaskExists, "%v", err)
	case errors.Is(err, apperrors.ErrQueueFull):
		return rpc.Errorf(proto.CodeQueueFull, "%v", err)
	case errors.Is(err, store.ErrNotFound):
		return rpc.Errorf(proto.CodeNotFound, "%v", err)
	case errors.Is(err, ErrClosed):
		return rpc.Errorf(proto.CodeClosed, "%v", err)
	}
	return err
}
