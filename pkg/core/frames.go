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

package core

// Error frame reasons. Sent only to the offending socket, never broadcast.
const (
	ReasonUnknownMessage = "unknown message"
	ReasonInvalidData    = "invalid data"
	ReasonBadCredentials = "bad credentials"
)

// OpenFrame is the first frame sent on every new connection.
type OpenFrame struct {
	Method  string `json:"method"`
	Now     int64  `json:"now"`
	Schemas any    `json:"schemas,omitempty"`
}

// PongFrame answers a ping. For carries the user id when the ping came
// from an authenticated session and the pong is fanned out.
type PongFrame struct {
	Method string `json:"method"`
	For    string `json:"for,omitempty"`
}

// ErrorFrame reports a client-local failure.
type ErrorFrame struct {
	Method string `json:"method"`
	Reason string `json:"reason"`
}

func NewErrorFrame(reason string) ErrorFrame {
	return ErrorFrame{Method: MethodError, Reason: reason}
}
