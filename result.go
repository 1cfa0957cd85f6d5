package blockflow

import "strings"

// Status classifies the outcome a node reports.
type Status string

const (
	// StatusOK means the node succeeded; the ok branch is followed and the
	// result's output is persisted when an output reference is configured.
	StatusOK Status = "OK"

	// StatusFail is a handler-reported business failure; the fail branch
	// is followed.
	StatusFail Status = "FAIL"

	// StatusError covers engine-level terminal conditions and handler
	// exceptions. The fail branch is followed only when the node opts in
	// via ErrorToFail.
	StatusError Status = "ERROR"

	// StatusStopped is the sentinel status carried by soft/hard-stop
	// results. It never routes a branch.
	StatusStopped Status = "STOPPED"
)

// Machine codes attached to engine-produced results.
const (
	CodeNodeNotFound      = "NODE_NOT_FOUND"
	CodePluginNotFound    = "PLUGIN_NOT_FOUND"
	CodeInputNotSelected  = "INPUT.NOT_SELECTED"
	CodeOutputNotSelected = "OUTPUT.NOT_SELECTED"
	CodePluginException   = "PLUGIN_EXCEPTION"
	CodeInvalidResult     = "INVALID_RESULT"
	CodeSoftStop          = "SOFT_STOP"
	CodeHardStop          = "HARD_STOP"
)

// NodeResult is the structured outcome of one node execution. User-visible
// failure is always a NodeResult, never a raw error surfacing to callers.
type NodeResult struct {
	Status  Status         `json:"status"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	// Output is meaningful only when Status is OK.
	Output any `json:"output,omitempty"`
}

// Valid reports whether the result carries a recognized status.
func (r *NodeResult) Valid() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case StatusOK, StatusFail, StatusError, StatusStopped:
		return true
	}
	return false
}

// StatusToken returns the lower-cased status for node_status events.
func (r *NodeResult) StatusToken() string {
	return strings.ToLower(string(r.Status))
}

// OKResult builds a successful result carrying the given output.
func OKResult(code, message string, output any) *NodeResult {
	return &NodeResult{Status: StatusOK, Code: code, Message: message, Output: output}
}

// FailResult builds a handler-reported failure result.
func FailResult(code, message string) *NodeResult {
	return &NodeResult{Status: StatusFail, Code: code, Message: message}
}

// ErrorResult builds an engine-level or exception result.
func ErrorResult(code, message string) *NodeResult {
	return &NodeResult{Status: StatusError, Code: code, Message: message}
}

// StoppedResult builds a stop sentinel result.
func StoppedResult(code string) *NodeResult {
	return &NodeResult{Status: StatusStopped, Code: code}
}
