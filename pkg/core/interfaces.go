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

// Subscriber is one live client session as seen by the listener registry
// and the broker dispatch path. Registry entries are keyed on the
// interface value, so implementations must be comparable (pointers are).
type Subscriber interface {
	// ID identifies the subscriber in logs.
	ID() string
	// Send hands a raw message to the subscriber without blocking.
	// It reports false when the subscriber's outbound queue is full
	// and the message was dropped.
	Send(msg []byte) bool
}
