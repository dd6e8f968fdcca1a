// Package journal persists the outcome of every send invocation.
package journal

import (
	"time"

	"github.com/ggonzalez94/sendflow/internal/send"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Path names how the invocation entered the pipeline.
type Path string

const (
	PathRequest  Path = "request"
	PathTransfer Path = "transfer"
	PathTemplate Path = "template"
)

type Record struct {
	ID           string         `json:"id"`
	Account      string         `json:"account"`
	Path         Path           `json:"path"`
	Template     string         `json:"template,omitempty"`
	Status       Status         `json:"status"`
	OpHash       string         `json:"op_hash,omitempty"`
	ErrorKind    send.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func newRecord(session *send.Session, path Path) Record {
	now := time.Now().UTC().Format(time.RFC3339)
	rec := Record{
		ID:        session.ID(),
		Account:   session.Account().Pkh,
		Path:      path,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tpl := session.Template(); tpl != nil {
		rec.Template = tpl.Name
		rec.Path = PathTemplate
	}
	return rec
}

// Apply copies a terminal result onto the record.
func (r *Record) Apply(result send.Result) {
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	switch result.Outcome {
	case send.OutcomeSuccess:
		r.Status = StatusSuccess
		r.OpHash = result.OpHash
	case send.OutcomeFailure:
		r.Status = StatusFailure
		r.ErrorKind = result.Kind
		r.ErrorMessage = result.Message
	default:
		r.Status = StatusDeclined
	}
}
