package review

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openPR() PullRequest {
	return PullRequest{ID: "pr-1", ProjectID: "proj-1", Title: "Adopt v2", Status: StatusOpen, CreatedBy: "usr-creator"}
}

func reviewer() Actor {
	return Actor{ID: "usr-reviewer", Name: "Dana", IsAssignedReviewer: true}
}

func TestCanTransition(t *testing.T) {
	statuses := []Status{StatusOpen, StatusApproved, StatusRejected, StatusMerged, StatusClosed}
	allowed := map[[2]Status]bool{
		{StatusOpen, StatusApproved}:   true,
		{StatusOpen, StatusRejected}:   true,
		{StatusApproved, StatusMerged}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, tc := range []struct {
		status   Status
		terminal bool
	}{
		{StatusOpen, false},
		{StatusApproved, false},
		{StatusRejected, false},
		{StatusMerged, true},
		{StatusClosed, true},
	} {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestApprove(t *testing.T) {
	rec, err := Approve(openPR(), reviewer(), now)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rec.Decision != DecisionApproved {
		t.Fatalf("Decision = %q, want %q", rec.Decision, DecisionApproved)
	}
	if rec.ReviewerID != "usr-reviewer" || rec.PullRequestID != "pr-1" {
		t.Fatalf("unexpected review record %+v", rec)
	}
	if !rec.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", rec.CreatedAt, now)
	}
}

func TestApproveByCreatorDenied(t *testing.T) {
	creator := Actor{ID: "usr-creator", Name: "Sam", IsCollaborator: true}
	_, err := Approve(openPR(), creator, now)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestApproveWithoutRoleDenied(t *testing.T) {
	outsider := Actor{ID: "usr-outsider", Name: "Kim"}
	_, err := Approve(openPR(), outsider, now)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestApproveNonOpenRejected(t *testing.T) {
	for _, status := range []Status{StatusApproved, StatusRejected, StatusMerged, StatusClosed} {
		pr := openPR()
		pr.Status = status
		_, err := Approve(pr, reviewer(), now)
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("status %s: err = %v, want InvalidTransitionError", status, err)
		}
		if ite.Status != status {
			t.Fatalf("error reports status %q, want %q", ite.Status, status)
		}
	}
}

func TestRejectCarriesComment(t *testing.T) {
	rec, err := Reject(openPR(), reviewer(), "needs work", now)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rec.Decision != DecisionRejected || rec.Comment != "needs work" {
		t.Fatalf("unexpected review record %+v", rec)
	}
}

func TestRejectEmptyCommentAllowed(t *testing.T) {
	rec, err := Reject(openPR(), reviewer(), "", now)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rec.Comment != "" {
		t.Fatalf("Comment = %q, want empty", rec.Comment)
	}
}

func TestMerge(t *testing.T) {
	pr := openPR()
	pr.Status = StatusApproved

	owner := Actor{ID: "usr-owner", Name: "Pat", IsProjectOwner: true}
	rec, err := Merge(pr, owner, now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if rec.MergedByID != "usr-owner" || !rec.MergedAt.Equal(now) {
		t.Fatalf("unexpected merge record %+v", rec)
	}
}

func TestMergeByCreatorAllowed(t *testing.T) {
	pr := openPR()
	pr.Status = StatusApproved

	creator := Actor{ID: "usr-creator", Name: "Sam"}
	if _, err := Merge(pr, creator, now); err != nil {
		t.Fatalf("Merge by creator: %v", err)
	}
}

func TestMergeRequiresApprovedStatus(t *testing.T) {
	owner := Actor{ID: "usr-owner", Name: "Pat", IsProjectOwner: true}
	for _, status := range []Status{StatusOpen, StatusRejected, StatusMerged, StatusClosed} {
		pr := openPR()
		pr.Status = status
		_, err := Merge(pr, owner, now)
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("status %s: err = %v, want InvalidTransitionError", status, err)
		}
	}
}

func TestMergeByReviewerDenied(t *testing.T) {
	pr := openPR()
	pr.Status = StatusApproved
	_, err := Merge(pr, reviewer(), now)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

// Rejecting an open pull request then attempting to merge it must fail
// with an invalid transition that names the rejected state.
func TestRejectThenMergeScenario(t *testing.T) {
	pr := openPR()
	rec, err := Reject(pr, reviewer(), "needs work", now)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rec.Comment != "needs work" {
		t.Fatalf("Comment = %q", rec.Comment)
	}
	pr.Status = StatusRejected

	owner := Actor{ID: "usr-owner", Name: "Pat", IsProjectOwner: true}
	_, err = Merge(pr, owner, now)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if ite.Status != StatusRejected {
		t.Fatalf("error reports status %q, want rejected", ite.Status)
	}
}
