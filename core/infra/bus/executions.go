package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cordum/cordum-packs/core/packs"
)

// SubjectScheduleExecution carries execution requests to the execution subsystem.
const SubjectScheduleExecution = "packs.executions.schedule"

// ExecutionScheduler publishes execution requests on the bus.
type ExecutionScheduler struct {
	pub     Publisher
	subject string
	now     func() time.Time
	newID   func() string
}

// NewExecutionScheduler returns a scheduler publishing on SubjectScheduleExecution.
func NewExecutionScheduler(pub Publisher) *ExecutionScheduler {
	return &ExecutionScheduler{
		pub:     pub,
		subject: SubjectScheduleExecution,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Schedule assigns an execution id and publishes the request envelope.
func (s *ExecutionScheduler) Schedule(_ context.Context, req packs.ExecutionRequest) (packs.ExecutionHandle, error) {
	id := s.newID()
	env, err := EncodeExecution(id, req, s.now())
	if err != nil {
		return packs.ExecutionHandle{}, err
	}
	if err := s.pub.Publish(s.subject, env); err != nil {
		return packs.ExecutionHandle{}, fmt.Errorf("publish execution: %w", err)
	}
	return packs.ExecutionHandle{ExecutionID: id}, nil
}

// EncodeExecution builds the execution envelope.
func EncodeExecution(id string, req packs.ExecutionRequest, at time.Time) (*structpb.Struct, error) {
	params, err := normalizeParams(req.Parameters)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"execution_id": id,
		"action":       req.Action,
		"parameters":   params,
		"user":         req.User,
		"requested_at": at.Format(time.RFC3339Nano),
	})
}

// DecodeExecution parses a published envelope back into its id and request.
func DecodeExecution(data []byte) (string, packs.ExecutionRequest, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return "", packs.ExecutionRequest{}, fmt.Errorf("decode execution: %w", err)
	}
	fields := env.GetFields()
	req := packs.ExecutionRequest{
		Action: fields["action"].GetStringValue(),
		User:   fields["user"].GetStringValue(),
	}
	if p := fields["parameters"].GetStructValue(); p != nil {
		req.Parameters = p.AsMap()
	}
	return fields["execution_id"].GetStringValue(), req, nil
}

// structpb only accepts JSON-shaped values.
func normalizeParams(in map[string]any) (map[string]any, error) {
	if in == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return out, nil
}
