package engine

import (
	"encoding/json"
	"strings"
)

// ToolUse is one tool invocation requested by the model.
type ToolUse struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResultStatus reports whether a tool invocation succeeded.
type ToolResultStatus string

const (
	StatusSuccess ToolResultStatus = "success"
	StatusError   ToolResultStatus = "error"
)

// ContentBlock is one piece of tool output. Exactly one field is set.
type ContentBlock struct {
	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
}

// ToolResult is what gets reported back to the model for a ToolUse.
// Failures travel as results with StatusError so the conversation can continue.
type ToolResult struct {
	ToolUseID string           `json:"tool_use_id"`
	Content   []ContentBlock   `json:"content"`
	Status    ToolResultStatus `json:"status"`
}

// ErrorResult builds a failed result carrying msg as its only text block.
func ErrorResult(useID, msg string) ToolResult {
	return ToolResult{
		ToolUseID: useID,
		Content:   []ContentBlock{{Text: msg}},
		Status:    StatusError,
	}
}

// TextResult builds a successful single-text result.
func TextResult(useID, text string) ToolResult {
	return ToolResult{
		ToolUseID: useID,
		Content:   []ContentBlock{{Text: text}},
		Status:    StatusSuccess,
	}
}

// IsError reports whether the result is a failure.
func (r ToolResult) IsError() bool {
	return r.Status == StatusError
}

// Text concatenates the text blocks of the result; JSON blocks are rendered verbatim.
func (r ToolResult) Text() string {
	var b strings.Builder
	for i, c := range r.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		if c.Text != "" {
			b.WriteString(c.Text)
		} else {
			b.Write(c.JSON)
		}
	}
	return b.String()
}

// ExecutionResult is the JSON payload returned by command-running tools.
type ExecutionResult struct {
	Cmd             string `json:"cmd"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	Status          string `json:"status"`
}
