package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	SessionID string    `json:"session_id,omitempty"`
	Network   string    `json:"network,omitempty"`
}

// Invocation is the CLI view of a send session: the step it waits on, or how it ended.
type Invocation struct {
	ID        string   `json:"id"`
	Account   string   `json:"account"`
	Status    string   `json:"status"`
	Pending   string   `json:"pending,omitempty"`
	Request   any      `json:"request,omitempty"`
	OpHash    string   `json:"op_hash,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Message   string   `json:"message,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

type TokenInfo struct {
	ID       string `json:"id"`
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
	Standard string `json:"standard"`
}
