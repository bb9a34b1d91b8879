package domain

// ExecErrorKind classifies why a sandbox invocation failed.
type ExecErrorKind string

const (
	ExecErrTimeout       ExecErrorKind = "TIMEOUT"
	ExecErrRuntimeFault  ExecErrorKind = "RUNTIME_FAULT"
	ExecErrResourceLimit ExecErrorKind = "RESOURCE_LIMIT_EXCEEDED"
)

// ExecutionResult is the outcome of one sandbox invocation. Snippet failures
// never escape as Go errors — they come back here with Success=false so the
// loop can feed them to the model as an observation.
type ExecutionResult struct {
	Output    string        `json:"output"`
	ErrorText string        `json:"error_text"`
	Success   bool          `json:"success"`
	ErrorKind ExecErrorKind `json:"error_kind,omitempty"`
}

// Observation formats the result as the text fed back into the conversation.
func (r ExecutionResult) Observation() string {
	if r.Success {
		if r.Output == "" {
			return "[code executed successfully with no output]"
		}
		return r.Output
	}
	detail := r.ErrorText
	if detail == "" {
		detail = "unknown execution error"
	}
	if r.ErrorKind != "" {
		return "Error executing code (" + string(r.ErrorKind) + "):\n" + detail
	}
	return "Error executing code:\n" + detail
}
