// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mgr

import (
	"github.com/pkg/errors"
)

// State is the position of a manager in the programming state machine.
type State int32

// Manager states. A load only ever moves forward through this list, and
// each *Err state ends the attempt.
const (
	StateUnknown State = iota
	StatePowerOff
	StatePowerUp
	StateReset
	StateFirmwareReq
	StateFirmwareReqErr
	StateWriteInit
	StateWriteInitErr
	StateWrite
	StateWriteErr
	StateWriteComplete
	StateWriteCompleteErr
	StateOperating
)

var stateNames = [...]string{
	StateUnknown:          "unknown",
	StatePowerOff:         "power off",
	StatePowerUp:          "power up",
	StateReset:            "reset",
	StateFirmwareReq:      "firmware request",
	StateFirmwareReqErr:   "firmware request error",
	StateWriteInit:        "write init",
	StateWriteInitErr:     "write init error",
	StateWrite:            "write",
	StateWriteErr:         "write error",
	StateWriteComplete:    "write complete",
	StateWriteCompleteErr: "write complete error",
	StateOperating:        "operating",
}

// States returns every state in order.
func States() []State {
	states := make([]State, len(stateNames))
	for i := range states {
		states[i] = State(i)
	}

	return states
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return stateNames[StateUnknown]
	}

	return stateNames[s]
}

// IsError reports whether s ends a failed load.
func (s State) IsError() bool {
	switch s {
	case StateFirmwareReqErr, StateWriteInitErr, StateWriteErr, StateWriteCompleteErr:
		return true
	}

	return false
}

// ParseState maps a state label back to its State.
func ParseState(label string) (State, error) {
	for i, name := range stateNames {
		if name == label {
			return State(i), nil
		}
	}

	return StateUnknown, errors.Errorf("unknown FPGA manager state %q", label)
}
