package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/vault"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts v to a Struct through its JSON form. Values that do not
// encode as a JSON object are wrapped as {"value": v}.
func ToStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		var raw any
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		m = map[string]any{"value": raw}
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// toStatus maps service errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, vault.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, vault.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, vault.ErrForbidden), errors.Is(err, vault.ErrConfigKeyNotAllowed):
		code = codes.PermissionDenied
	case errors.Is(err, vault.ErrInvalidPIN):
		code = codes.Unauthenticated
	case errors.Is(err, vault.ErrConflict), errors.Is(err, vault.ErrLocked), errors.Is(err, vault.ErrExpired):
		code = codes.FailedPrecondition
	case errors.Is(err, notify.ErrChannelDisabled):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return grpcstatus.Error(code, err.Error())
}

func reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := ToStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

func decodeRequest(in *structpb.Struct, v any) error {
	if err := FromStruct(in, v); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}
