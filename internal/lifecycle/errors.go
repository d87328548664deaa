package lifecycle

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies transition failures.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindPolicyViolation Kind = "policy_violation"
	KindCollaborator    Kind = "collaborator_failure"
	KindPersistence     Kind = "persistence_failure"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrPolicyViolation = &Error{Kind: KindPolicyViolation}
	ErrCollaborator    = &Error{Kind: KindCollaborator}
	ErrPersistence     = &Error{Kind: KindPersistence}
)

// Preconditions reported to callers.
const (
	ReasonNotFound         = "article not found"
	ReasonNotPublished     = "article not published"
	ReasonAlreadyDeleted   = "article already deleted"
	ReasonNotDeleted       = "article not deleted"
	ReasonDeleted          = "article is deleted"
	ReasonNotApproved      = "article not approved"
	ReasonNotDraft         = "article not in draft"
	ReasonPublishInFlight  = "publish already in progress"
	ReasonChangedMeanwhile = "article changed during transition"
	ReasonMissingFields    = "title and content are required"
)

type Error struct {
	Kind      Kind
	Op        string
	ArticleID uuid.UUID
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s article %s: %s", e.Op, e.ArticleID, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, and on reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func violation(op string, id uuid.UUID, reason string) *Error {
	return &Error{Kind: KindPolicyViolation, Op: op, ArticleID: id, Reason: reason}
}
