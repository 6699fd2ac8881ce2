// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages exchanged between the page agent, the
// relay broker and the credential helper, and the length-prefixed framing used
// on the helper's stdin/stdout.
package protocol

import (
	"go.uber.org/zap/zapcore"
)

const (
	ActionGetCredentials = "getCredentials"
	ActionPing           = "ping"

	PingMessage       = "Native host operational"
	MsgInvalidRequest = "Invalid request"
	MsgStoreFailure   = "Credential store unavailable"
)

// Request is the JSON message the agent sends and the helper receives.
type Request struct {
	Action string `json:"action"`        // "getCredentials", "ping"
	App    string `json:"app,omitempty"` // logical app identifier, not a URL
}

// Response is the JSON message the helper writes and the agent receives.
type Response struct {
	Success     bool         `json:"success"`
	Credentials *Credentials `json:"credentials,omitempty"` // only for a successful "getCredentials"
	Error       string       `json:"error,omitempty"`
	Message     string       `json:"message,omitempty"` // only for "ping"
}

// Credentials is a username/password pair for one app.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// String never renders the password.
func (c Credentials) String() string {
	return "{username:" + c.Username + " password:[redacted]}"
}

// MarshalLogObject lets credentials be passed to zap.Object without leaking
// the password.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("username", c.Username)
	enc.AddBool("has_password", c.Password != "")
	return nil
}

// Found returns the response for a credential hit.
func Found(c Credentials) *Response {
	return &Response{Success: true, Credentials: &c}
}

// NotFound returns the response for an app with no stored credentials.
func NotFound(app string) *Response {
	return &Response{Success: false, Error: "Credentials not found for " + app}
}

// UnknownAction returns the response for an unrecognised action.
func UnknownAction(action string) *Response {
	return &Response{Success: false, Error: "Unknown action: " + action}
}

// Pong returns the liveness response.
func Pong() *Response {
	return &Response{Success: true, Message: PingMessage}
}

// Failure returns a response carrying err's message. Never pass an error that
// wraps secret material.
func Failure(err error) *Response {
	return &Response{Success: false, Error: err.Error()}
}
