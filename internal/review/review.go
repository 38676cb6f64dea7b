// Package review governs the pull-request lifecycle: the closed status
// variant, its transitions, and the authorization each transition
// demands. Transition functions are pure; persistence applies their
// outcomes atomically alongside the review record and activity event.
package review

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusMerged   Status = "merged"
	StatusClosed   Status = "closed"
)

// InitialStatus is assigned at pull-request creation.
const InitialStatus = StatusOpen

// Terminal reports whether no transition may ever leave this status.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusClosed
}

// Valid reports whether s is a member of the status variant.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusApproved, StatusRejected, StatusMerged, StatusClosed:
		return true
	}
	return false
}

// CanTransition encodes the full transition graph.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusMerged
	default:
		return false
	}
}

// Decision classifies one reviewer's verdict on a pull request.
type Decision string

const (
	DecisionApproved         Decision = "approved"
	DecisionRejected         Decision = "rejected"
	DecisionChangesRequested Decision = "changes_requested"
	DecisionPending          Decision = "pending"
)

// Actor is an already-authenticated identity together with the
// authorization attributes the workflow needs, resolved by the
// access-control collaborator. It is always passed explicitly, never
// read from ambient context.
type Actor struct {
	ID                 string
	Name               string
	IsProjectOwner     bool
	IsCollaborator     bool
	IsAssignedReviewer bool
}

// CanReview reports whether the actor holds any role that permits
// reviewing pull requests in the owning project.
func (a Actor) CanReview() bool {
	return a.IsProjectOwner || a.IsCollaborator || a.IsAssignedReviewer
}

// PullRequest is the workflow's view of a pull request: just enough
// state to validate a transition.
type PullRequest struct {
	ID        string
	ProjectID string
	Title     string
	Status    Status
	CreatedBy string
}

// Review is one reviewer's immutable decision record.
type Review struct {
	PullRequestID string
	ReviewerID    string
	ReviewerName  string
	Decision      Decision
	Comment       string
	CreatedAt     time.Time
}

// MergeRecord captures who merged a pull request and when.
type MergeRecord struct {
	MergedBy   string
	MergedByID string
	MergedAt   time.Time
}

// ErrNotAuthorized is returned when the acting identity lacks the role
// a transition requires. Nothing changes; the effect is identical to an
// invalid transition, only the reported reason differs.
var ErrNotAuthorized = errors.New("not authorized")

// InvalidTransitionError reports an action requested while the pull
// request's current status forbids it.
type InvalidTransitionError struct {
	Action string
	Status Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s pull request in status %q", e.Action, e.Status)
}

// Approve validates the open -> approved transition and produces the
// review record to append. The creator may not approve their own pull
// request.
func Approve(pr PullRequest, actor Actor, now time.Time) (Review, error) {
	if pr.Status != StatusOpen {
		return Review{}, &InvalidTransitionError{Action: "approve", Status: pr.Status}
	}
	if actor.ID == pr.CreatedBy {
		return Review{}, fmt.Errorf("creator may not approve own pull request: %w", ErrNotAuthorized)
	}
	if !actor.CanReview() {
		return Review{}, fmt.Errorf("approve requires a reviewer role: %w", ErrNotAuthorized)
	}
	return Review{
		PullRequestID: pr.ID,
		ReviewerID:    actor.ID,
		ReviewerName:  actor.Name,
		Decision:      DecisionApproved,
		Comment:       "Approved",
		CreatedAt:     now,
	}, nil
}

// Reject validates the open -> rejected transition. The comment may be
// empty.
func Reject(pr PullRequest, actor Actor, comment string, now time.Time) (Review, error) {
	if pr.Status != StatusOpen {
		return Review{}, &InvalidTransitionError{Action: "reject", Status: pr.Status}
	}
	if actor.ID == pr.CreatedBy {
		return Review{}, fmt.Errorf("creator may not reject own pull request: %w", ErrNotAuthorized)
	}
	if !actor.CanReview() {
		return Review{}, fmt.Errorf("reject requires a reviewer role: %w", ErrNotAuthorized)
	}
	return Review{
		PullRequestID: pr.ID,
		ReviewerID:    actor.ID,
		ReviewerName:  actor.Name,
		Decision:      DecisionRejected,
		Comment:       comment,
		CreatedAt:     now,
	}, nil
}

// Merge validates the approved -> merged transition. Only the project
// owner or the pull request's creator may merge.
func Merge(pr PullRequest, actor Actor, now time.Time) (MergeRecord, error) {
	if pr.Status != StatusApproved {
		return MergeRecord{}, &InvalidTransitionError{Action: "merge", Status: pr.Status}
	}
	if !actor.IsProjectOwner && actor.ID != pr.CreatedBy {
		return MergeRecord{}, fmt.Errorf("merge requires project owner or creator: %w", ErrNotAuthorized)
	}
	return MergeRecord{MergedBy: actor.Name, MergedByID: actor.ID, MergedAt: now}, nil
}
