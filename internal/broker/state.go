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

package broker

// State of the broker connection lifecycle. One state machine, driven by
// a single loop; each protocol step is a discrete transition.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateChannelOpening
	StateExchangeDeclaring
	StateQueueDeclaring
	StateBinding
	StateConsuming
	StateReconnecting
	StateClosing
)

var stateNames = map[State]string{
	StateDisconnected:      "disconnected",
	StateConnecting:        "connecting",
	StateChannelOpening:    "channel_opening",
	StateExchangeDeclaring: "exchange_declaring",
	StateQueueDeclaring:    "queue_declaring",
	StateBinding:           "binding",
	StateConsuming:         "consuming",
	StateReconnecting:      "reconnecting",
	StateClosing:           "closing",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Event observed by the lifecycle loop.
type Event int

const (
	EventDialed Event = iota
	EventChannelOpened
	EventExchangeDeclared
	EventQueueDeclared
	EventBound
	EventConnectionLost
	EventStepFailed
	EventRetryElapsed
	EventStopRequested
	EventClosed
)

// Next is the pure transition function (state, event) -> state. Any
// failure or connection loss outside a deliberate close feeds the
// reconnect path; the bridge never gives up on its own.
func Next(s State, ev Event) State {
	switch ev {
	case EventStopRequested:
		return StateClosing
	case EventClosed:
		return StateDisconnected
	case EventConnectionLost, EventStepFailed:
		if s == StateClosing {
			return StateDisconnected
		}
		return StateReconnecting
	case EventRetryElapsed:
		if s == StateReconnecting {
			return StateConnecting
		}
		return s
	}

	switch {
	case s == StateConnecting && ev == EventDialed:
		return StateChannelOpening
	case s == StateChannelOpening && ev == EventChannelOpened:
		return StateExchangeDeclaring
	case s == StateExchangeDeclaring && ev == EventExchangeDeclared:
		return StateQueueDeclaring
	case s == StateQueueDeclaring && ev == EventQueueDeclared:
		return StateBinding
	case s == StateBinding && ev == EventBound:
		return StateConsuming
	}
	return s
}
