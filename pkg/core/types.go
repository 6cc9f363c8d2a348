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

import "fmt"

// MaxClientMessage is the ceiling, in bytes, applied to inbound client
// frames before any parsing is attempted.
const MaxClientMessage = 1024

// Methods recognized on the client socket and on broker messages.
const (
	MethodGet      = "GET"
	MethodPing     = "ping"
	MethodPong     = "pong"
	MethodOpen     = "open"
	MethodError    = "error"
	MethodResponse = "RESPONSE"
)

// PongModel is the model name used when a pong for an authenticated user
// is re-entered through the broker dispatch path. Sessions interested in
// a user's pongs subscribe to Topic(PongModel, userID).
const PongModel = "pong"

// Topic builds the subscription key for a model and an optional item id.
// Publishers and subscribers derive keys through this one function so
// they always agree on the string.
func Topic(model, id string) string {
	if id == "" {
		return model
	}
	return fmt.Sprintf("%s_id_%s", model, id)
}

// Topics returns every key a message for (model, id) is matched against:
// the bare model key plus, when an id is present, the item-scoped key.
func Topics(model, id string) []string {
	if id == "" {
		return []string{model}
	}
	return []string{model, Topic(model, id)}
}
