// Package rpcx holds what the gRPC server and client share: the service and
// method names and the JSON <-> google.protobuf.Struct codec.
package rpcx

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "gophauth.v1.AuthService"

const (
	MethodRegister = "Register"
	MethodLogin    = "Login"
	MethodRefresh  = "Refresh"
	MethodLogout   = "Logout"
	MethodMe       = "Me"
)

// FullMethod returns the "/service/method" path used on the wire.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Encode converts v to a Struct through its JSON form. v must encode to a
// JSON object.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcx: encode: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("rpcx: encode: %w", err)
	}
	return s, nil
}

// Decode fills v from s, rejecting fields v does not declare. A nil Struct
// decodes as an empty object.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("rpcx: decode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("rpcx: decode: %w", err)
	}
	return nil
}
