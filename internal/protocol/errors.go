// SPDX-License-Identifier: Apache-2.0

package protocol

import "errors"

// Failure kinds shared by every hop. Helper-reported kinds travel as a
// Response; broker-detected kinds are returned as errors and normalised into a
// Response before they reach the agent.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnknownAction       = errors.New("unknown action")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrTimeout             = errors.New("native host timed out")
	ErrDisconnected        = errors.New("native host disconnected")
	ErrProtocolFraming     = errors.New("protocol framing error")

	// ErrEndOfStream reports that the input ended before a length prefix
	// could be read. It is not a failure: there is simply no message.
	ErrEndOfStream = errors.New("end of stream")
)
