// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package graphpb

import (
	proto "github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of graph messages. It is the
// standard protobuf subtype, so any alpha accepts the calls.
const CodecName = "proto"

// The codec takes over grpc's default protobuf codec, which only understands
// messages carrying a descriptor. Messages not registered with gogo are
// handed to the default one.
func init() {
	encoding.RegisterCodec(codec{fallback: encoding.GetCodec(CodecName)})
}

type codec struct {
	fallback encoding.Codec
}

func (codec) Name() string { return CodecName }

// gogoMessage returns v as a message registered with gogo/protobuf.
func gogoMessage(v interface{}) (proto.Message, bool) {
	m, ok := v.(proto.Message)
	if !ok || len(proto.MessageName(m)) == 0 {
		return nil, false
	}
	return m, true
}

func (c codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := gogoMessage(v)
	if !ok {
		if c.fallback == nil {
			return nil, errors.Errorf("marshal %T: not a registered message", v)
		}
		return c.fallback.Marshal(v)
	}
	b, err := proto.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %T", v)
	}
	return b, nil
}

func (c codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := gogoMessage(v)
	if !ok {
		if c.fallback == nil {
			return errors.Errorf("unmarshal %T: not a registered message", v)
		}
		return c.fallback.Unmarshal(data, v)
	}
	return errors.Wrapf(proto.Unmarshal(data, m), "unmarshal %T", v)
}

// MarshalJwt encodes jwt the way a Login response carries it.
func MarshalJwt(jwt *Jwt) ([]byte, error) {
	b, err := proto.Marshal(jwt)
	return b, errors.Wrap(err, "marshal jwt")
}

// UnmarshalJwt decodes the Json field of a Login response.
func UnmarshalJwt(data []byte) (*Jwt, error) {
	jwt := &Jwt{}
	if err := proto.Unmarshal(data, jwt); err != nil {
		return nil, errors.Wrap(err, "unmarshal jwt")
	}
	return jwt, nil
}
