// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package envelope implements the signed message envelope crossing the
// broker and the client socket: a compact JWS whose payload wraps the
// message fields under "data", signed with a recoverable secp256k1
// signature. The signer's base58 address doubles as the key id and the
// pubhash vocabulary value, so verification needs no key registry.
package envelope

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apistream/streambridge/pkg/core"
)

var (
	// ErrMalformed marks a message that is not a structurally valid
	// envelope (protocol failure).
	ErrMalformed = errors.New("malformed envelope")
	// ErrSignature marks a well-formed envelope whose signature does
	// not verify against its key id.
	ErrSignature = errors.New("envelope signature invalid")
)

// Envelope is the decoded, verified form of a message. It only exists
// after successful verification; a failure never yields a partial one.
type Envelope struct {
	Method      string
	Model       string
	ID          string
	Data        any
	Pubhash     string
	Permissions []string
	IssuedAt    time.Time
}

// Topic returns the primary subscription key for this envelope.
func (e *Envelope) Topic() string {
	return core.Topic(e.Model, e.ID)
}

// Topics returns every key this envelope is matched against.
func (e *Envelope) Topics() []string {
	return core.Topics(e.Model, e.ID)
}

// Verifier checks a raw message and extracts its envelope.
type Verifier interface {
	Verify(raw []byte) (*Envelope, error)
}

// payloadFields is the wire shape of the fields nested under "data" in
// the JWS payload.
type payloadFields struct {
	Method      string      `json:"method"`
	Model       string      `json:"model,omitempty"`
	ID          json.Number `json:"id,omitempty"`
	Data        any         `json:"data,omitempty"`
	Pubhash     string      `json:"pubhash,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
}

type claims struct {
	Data payloadFields `json:"data"`
	jwt.RegisteredClaims
}

func (c *claims) envelope() *Envelope {
	env := &Envelope{
		Method:      c.Data.Method,
		Model:       c.Data.Model,
		ID:          c.Data.ID.String(),
		Data:        c.Data.Data,
		Pubhash:     c.Data.Pubhash,
		Permissions: c.Data.Permissions,
	}
	if c.IssuedAt != nil {
		env.IssuedAt = c.IssuedAt.Time
	}
	return env
}
