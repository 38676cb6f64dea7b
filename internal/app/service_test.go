package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ni2-vsv11/DocTrack/internal/compare"
	"github.com/ni2-vsv11/DocTrack/internal/config"
	"github.com/ni2-vsv11/DocTrack/internal/ledger"
	"github.com/ni2-vsv11/DocTrack/internal/rbac"
	"github.com/ni2-vsv11/DocTrack/internal/store"
)

type fakeStore struct {
	pingFn                    func(context.Context) error
	insertProjectFn           func(context.Context, store.Project) error
	getProjectFn              func(context.Context, string) (store.Project, error)
	listProjectsFn            func(context.Context) ([]store.Project, error)
	addCollaboratorFn         func(context.Context, string, string, string) error
	isCollaboratorFn          func(context.Context, string, string) (bool, error)
	insertDocumentFn          func(context.Context, store.Document) error
	getDocumentFn             func(context.Context, string) (store.Document, error)
	listDocumentsByProjectFn  func(context.Context, string) ([]store.Document, error)
	maxVersionNumberFn        func(context.Context, string) (int, error)
	insertVersionFn           func(context.Context, store.Version, store.Activity) error
	getVersionFn              func(context.Context, string, int) (store.Version, error)
	listVersionsFn            func(context.Context, string) ([]store.Version, error)
	insertPullRequestFn       func(context.Context, store.PullRequest, store.Activity) error
	getPullRequestFn          func(context.Context, string) (store.PullRequest, error)
	listPullRequestsFn        func(context.Context, string) ([]store.PullRequest, error)
	isAssignedReviewerFn      func(context.Context, string, string) (bool, error)
	transitionPullRequestFn   func(ctx context.Context, id, from, to string, at time.Time, rev *store.Review, act store.Activity) error
	mergePullRequestFn        func(ctx context.Context, id, mergedByID string, mergedAt time.Time, act store.Activity) error
	listReviewsFn             func(context.Context, string) ([]store.Review, error)
	listActivitiesFn          func(context.Context, int) ([]store.Activity, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) InsertProject(ctx context.Context, item store.Project) error {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	return store.Project{ID: id}, nil
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) AddCollaborator(ctx context.Context, projectID, userID, userName string) error {
	if f.addCollaboratorFn != nil {
		return f.addCollaboratorFn(ctx, projectID, userID, userName)
	}
	return nil
}

func (f *fakeStore) IsCollaborator(ctx context.Context, projectID, userID string) (bool, error) {
	if f.isCollaboratorFn != nil {
		return f.isCollaboratorFn(ctx, projectID, userID)
	}
	return false, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, item store.Document) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{ID: id}, nil
}

func (f *fakeStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]store.Document, error) {
	if f.listDocumentsByProjectFn != nil {
		return f.listDocumentsByProjectFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) MaxVersionNumber(ctx context.Context, documentID string) (int, error) {
	if f.maxVersionNumberFn != nil {
		return f.maxVersionNumberFn(ctx, documentID)
	}
	return 0, nil
}

func (f *fakeStore) InsertVersion(ctx context.Context, item store.Version, act store.Activity) error {
	if f.insertVersionFn != nil {
		return f.insertVersionFn(ctx, item, act)
	}
	return nil
}

func (f *fakeStore) GetVersion(ctx context.Context, documentID string, number int) (store.Version, error) {
	if f.getVersionFn != nil {
		return f.getVersionFn(ctx, documentID, number)
	}
	return store.Version{}, sql.ErrNoRows
}

func (f *fakeStore) ListVersions(ctx context.Context, documentID string) ([]store.Version, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) InsertPullRequest(ctx context.Context, item store.PullRequest, act store.Activity) error {
	if f.insertPullRequestFn != nil {
		return f.insertPullRequestFn(ctx, item, act)
	}
	return nil
}

func (f *fakeStore) GetPullRequest(ctx context.Context, id string) (store.PullRequest, error) {
	if f.getPullRequestFn != nil {
		return f.getPullRequestFn(ctx, id)
	}
	return store.PullRequest{}, sql.ErrNoRows
}

func (f *fakeStore) ListPullRequestsByProject(ctx context.Context, projectID string) ([]store.PullRequest, error) {
	if f.listPullRequestsFn != nil {
		return f.listPullRequestsFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) IsAssignedReviewer(ctx context.Context, pullRequestID, userID string) (bool, error) {
	if f.isAssignedReviewerFn != nil {
		return f.isAssignedReviewerFn(ctx, pullRequestID, userID)
	}
	return false, nil
}

func (f *fakeStore) TransitionPullRequest(ctx context.Context, id, from, to string, at time.Time, rev *store.Review, act store.Activity) error {
	if f.transitionPullRequestFn != nil {
		return f.transitionPullRequestFn(ctx, id, from, to, at, rev, act)
	}
	return nil
}

func (f *fakeStore) MergePullRequest(ctx context.Context, id, mergedByID string, mergedAt time.Time, act store.Activity) error {
	if f.mergePullRequestFn != nil {
		return f.mergePullRequestFn(ctx, id, mergedByID, mergedAt, act)
	}
	return nil
}

func (f *fakeStore) ListReviews(ctx context.Context, pullRequestID string) ([]store.Review, error) {
	if f.listReviewsFn != nil {
		return f.listReviewsFn(ctx, pullRequestID)
	}
	return nil, nil
}

func (f *fakeStore) ListActivities(ctx context.Context, limit int) ([]store.Activity, error) {
	if f.listActivitiesFn != nil {
		return f.listActivitiesFn(ctx, limit)
	}
	return nil, nil
}

type fakeBlob struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeBlob) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = io.Copy(io.Discard, r)
	f.keys = append(f.keys, key)
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]compare.Result
	hits    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]compare.Result{}}
}

func (c *memCache) Get(_ context.Context, documentID string, from, to int) (compare.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.entries[cacheKey(documentID, from, to)]
	if ok {
		c.hits++
	}
	return result, ok, nil
}

func (c *memCache) Set(_ context.Context, documentID string, from, to int, result compare.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(documentID, from, to)] = result
	return nil
}

func cacheKey(documentID string, from, to int) string {
	return documentID + ":" + string(rune('0'+from)) + ":" + string(rune('0'+to))
}

func newTestService(fs *fakeStore, cache compareCache) *Service {
	svc := New(config.Config{}, fs, ledger.NewAllocator(fs), &fakeBlob{}, cache, nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func contributor() Identity {
	return Identity{ID: "usr-1", Name: "Sam", Role: rbac.RoleContributor}
}

func TestUploadVersionAssignsSequentialNumbers(t *testing.T) {
	stored := map[int]store.Version{}
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-1", Name: "Contract"}, nil
		},
		maxVersionNumberFn: func(context.Context, string) (int, error) {
			max := 0
			for number := range stored {
				if number > max {
					max = number
				}
			}
			return max, nil
		},
		insertVersionFn: func(_ context.Context, item store.Version, act store.Activity) error {
			if _, taken := stored[item.VersionNumber]; taken {
				return store.ErrVersionConflict
			}
			if act.Action != "uploaded_version" {
				t.Fatalf("activity action = %q", act.Action)
			}
			if act.TargetID != item.ID {
				t.Fatalf("activity target = %q, want version ID %q", act.TargetID, item.ID)
			}
			stored[item.VersionNumber] = item
			return nil
		},
	}
	svc := newTestService(fs, nil)

	for want := 1; want <= 3; want++ {
		got, err := svc.UploadVersion(context.Background(), contributor(), "proj-1", "doc-1", UploadVersionInput{
			Filename: "draft.docx",
			Size:     128,
			Content:  bytes.NewReader([]byte("payload")),
		})
		if err != nil {
			t.Fatalf("UploadVersion #%d: %v", want, err)
		}
		if got.VersionNumber != want {
			t.Fatalf("VersionNumber = %d, want %d", got.VersionNumber, want)
		}
		if got.FileSize != 128 {
			t.Fatalf("FileSize = %d, want 128", got.FileSize)
		}
	}
}

func TestUploadVersionRequiresUploadRole(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	viewer := Identity{ID: "usr-1", Name: "Sam", Role: rbac.RoleViewer}
	_, err := svc.UploadVersion(context.Background(), viewer, "proj-1", "doc-1", UploadVersionInput{
		Filename: "draft.docx",
		Content:  bytes.NewReader(nil),
	})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 DomainError", err)
	}
}

func TestUploadVersionRejectsForeignDocument(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-other"}, nil
		},
	}
	svc := newTestService(fs, nil)

	_, err := svc.UploadVersion(context.Background(), contributor(), "proj-1", "doc-1", UploadVersionInput{
		Filename: "draft.docx",
		Content:  bytes.NewReader(nil),
	})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 DomainError", err)
	}
}

func textVersion(documentID string, number int, text string) store.Version {
	return store.Version{
		ID:            "ver-" + string(rune('0'+number)),
		DocumentID:    documentID,
		VersionNumber: number,
		ExtractedText: &text,
	}
}

func TestCompareVersionsComputesAndCaches(t *testing.T) {
	versionReads := 0
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-1"}, nil
		},
		getVersionFn: func(_ context.Context, documentID string, number int) (store.Version, error) {
			versionReads++
			switch number {
			case 1:
				return textVersion(documentID, 1, "alpha\nbeta\ngamma\n"), nil
			case 2:
				return textVersion(documentID, 2, "alpha\nchanged\ngamma\n"), nil
			}
			return store.Version{}, sql.ErrNoRows
		},
	}
	cache := newMemCache()
	svc := newTestService(fs, cache)

	first, err := svc.CompareVersions(context.Background(), "proj-1", "doc-1", 1, 2)
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if !first.CanCompare {
		t.Fatalf("CanCompare = false, reason %q", first.Reason)
	}
	if first.Stats.LinesChanged != 1 {
		t.Fatalf("LinesChanged = %d, want 1", first.Stats.LinesChanged)
	}
	if versionReads != 2 {
		t.Fatalf("version reads = %d, want 2", versionReads)
	}

	second, err := svc.CompareVersions(context.Background(), "proj-1", "doc-1", 1, 2)
	if err != nil {
		t.Fatalf("CompareVersions (cached): %v", err)
	}
	if versionReads != 2 {
		t.Fatalf("cached call re-read versions, reads = %d", versionReads)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", cache.hits)
	}
	if second.Unified != first.Unified {
		t.Fatal("cached result differs from computed result")
	}
}

func TestCompareVersionsWithoutExtractedText(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-1"}, nil
		},
		getVersionFn: func(_ context.Context, documentID string, number int) (store.Version, error) {
			if number == 1 {
				return store.Version{DocumentID: documentID, VersionNumber: 1}, nil
			}
			return textVersion(documentID, 2, "alpha\n"), nil
		},
	}
	svc := newTestService(fs, nil)

	result, err := svc.CompareVersions(context.Background(), "proj-1", "doc-1", 1, 2)
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if result.CanCompare {
		t.Fatal("CanCompare = true for version without extracted text")
	}
	if result.Reason != compare.ReasonNotExtractable {
		t.Fatalf("Reason = %q, want %q", result.Reason, compare.ReasonNotExtractable)
	}
}

func TestCompareVersionsUnknownVersion(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-1"}, nil
		},
	}
	svc := newTestService(fs, nil)

	_, err := svc.CompareVersions(context.Background(), "proj-1", "doc-1", 1, 2)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func openPullRequest() store.PullRequest {
	return store.PullRequest{
		ID:            "pr-1",
		ProjectID:     "proj-1",
		DocumentID:    "doc-1",
		Title:         "Adopt v2",
		SourceVersion: 2,
		Status:        "open",
		CreatedBy:     "usr-creator",
	}
}

func reviewerStore(pr store.PullRequest) *fakeStore {
	return &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return pr, nil
		},
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, OwnerID: "usr-owner"}, nil
		},
		isAssignedReviewerFn: func(_ context.Context, _, userID string) (bool, error) {
			return userID == "usr-reviewer", nil
		},
	}
}

func TestApprovePullRequest(t *testing.T) {
	fs := reviewerStore(openPullRequest())

	var gotFrom, gotTo string
	var gotReview *store.Review
	fs.transitionPullRequestFn = func(_ context.Context, _, from, to string, _ time.Time, rev *store.Review, act store.Activity) error {
		gotFrom, gotTo = from, to
		gotReview = rev
		if act.Action != "approved_pull_request" {
			t.Fatalf("activity action = %q", act.Action)
		}
		return nil
	}
	svc := newTestService(fs, nil)

	ident := Identity{ID: "usr-reviewer", Name: "Dana", Role: rbac.RoleReviewer}
	pr, err := svc.ApprovePullRequest(context.Background(), ident, "pr-1")
	if err != nil {
		t.Fatalf("ApprovePullRequest: %v", err)
	}
	if pr.Status != "approved" {
		t.Fatalf("Status = %q, want approved", pr.Status)
	}
	if gotFrom != "open" || gotTo != "approved" {
		t.Fatalf("transition %s -> %s, want open -> approved", gotFrom, gotTo)
	}
	if gotReview == nil || gotReview.Decision != "approved" {
		t.Fatalf("review row = %+v, want approved decision", gotReview)
	}
	if gotReview.ID == "" {
		t.Fatal("review row missing ID")
	}
}

func TestApprovePullRequestByCreatorDenied(t *testing.T) {
	fs := reviewerStore(openPullRequest())
	fs.isCollaboratorFn = func(context.Context, string, string) (bool, error) { return true, nil }
	svc := newTestService(fs, nil)

	ident := Identity{ID: "usr-creator", Name: "Sam", Role: rbac.RoleReviewer}
	_, err := svc.ApprovePullRequest(context.Background(), ident, "pr-1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 DomainError", err)
	}
}

func TestApprovePullRequestInvalidStatus(t *testing.T) {
	pr := openPullRequest()
	pr.Status = "merged"
	svc := newTestService(reviewerStore(pr), nil)

	ident := Identity{ID: "usr-reviewer", Name: "Dana", Role: rbac.RoleReviewer}
	_, err := svc.ApprovePullRequest(context.Background(), ident, "pr-1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusConflict {
		t.Fatalf("err = %v, want 409 DomainError", err)
	}
	if domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("Code = %q, want INVALID_TRANSITION", domainErr.Code)
	}
}

func TestApprovePullRequestLostRace(t *testing.T) {
	fs := reviewerStore(openPullRequest())
	fs.transitionPullRequestFn = func(context.Context, string, string, string, time.Time, *store.Review, store.Activity) error {
		return store.ErrStaleStatus
	}
	svc := newTestService(fs, nil)

	ident := Identity{ID: "usr-reviewer", Name: "Dana", Role: rbac.RoleReviewer}
	_, err := svc.ApprovePullRequest(context.Background(), ident, "pr-1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusConflict {
		t.Fatalf("err = %v, want 409 DomainError", err)
	}
}

func TestRejectPullRequestRecordsComment(t *testing.T) {
	fs := reviewerStore(openPullRequest())

	var gotReview *store.Review
	fs.transitionPullRequestFn = func(_ context.Context, _, _, to string, _ time.Time, rev *store.Review, _ store.Activity) error {
		if to != "rejected" {
			t.Fatalf("transition to %q, want rejected", to)
		}
		gotReview = rev
		return nil
	}
	svc := newTestService(fs, nil)

	ident := Identity{ID: "usr-reviewer", Name: "Dana", Role: rbac.RoleReviewer}
	pr, err := svc.RejectPullRequest(context.Background(), ident, "pr-1", "needs work")
	if err != nil {
		t.Fatalf("RejectPullRequest: %v", err)
	}
	if pr.Status != "rejected" {
		t.Fatalf("Status = %q, want rejected", pr.Status)
	}
	if gotReview == nil || gotReview.Comment != "needs work" {
		t.Fatalf("review row = %+v, want comment carried", gotReview)
	}
}

func TestMergePullRequestByOwner(t *testing.T) {
	pr := openPullRequest()
	pr.Status = "approved"
	fs := reviewerStore(pr)

	merged := false
	fs.mergePullRequestFn = func(_ context.Context, _, mergedByID string, _ time.Time, act store.Activity) error {
		merged = true
		if mergedByID != "usr-owner" {
			t.Fatalf("mergedByID = %q, want usr-owner", mergedByID)
		}
		if act.Action != "merged_pull_request" {
			t.Fatalf("activity action = %q", act.Action)
		}
		return nil
	}
	svc := newTestService(fs, nil)

	ident := Identity{ID: "usr-owner", Name: "Pat", Role: rbac.RoleManager}
	got, err := svc.MergePullRequest(context.Background(), ident, "pr-1")
	if err != nil {
		t.Fatalf("MergePullRequest: %v", err)
	}
	if !merged {
		t.Fatal("store merge not invoked")
	}
	if got.Status != "merged" || got.MergedAt == nil {
		t.Fatalf("pr = %+v, want merged with timestamp", got)
	}
}

func TestMergePullRequestByReviewerDenied(t *testing.T) {
	pr := openPullRequest()
	pr.Status = "approved"
	svc := newTestService(reviewerStore(pr), nil)

	ident := Identity{ID: "usr-reviewer", Name: "Dana", Role: rbac.RoleReviewer}
	_, err := svc.MergePullRequest(context.Background(), ident, "pr-1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 DomainError", err)
	}
}

func TestCreatePullRequestValidatesVersions(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-1"}, nil
		},
	}
	svc := newTestService(fs, nil)

	_, err := svc.CreatePullRequest(context.Background(), contributor(), "proj-1", CreatePullRequestInput{
		DocumentID:    "doc-1",
		Title:         "Adopt v2",
		SourceVersion: 2,
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows for missing source version", err)
	}
}

func TestCreatePullRequestOpensWithReviewers(t *testing.T) {
	var inserted store.PullRequest
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			return store.Document{ID: id, ProjectID: "proj-1"}, nil
		},
		getVersionFn: func(_ context.Context, documentID string, number int) (store.Version, error) {
			return store.Version{DocumentID: documentID, VersionNumber: number}, nil
		},
		insertPullRequestFn: func(_ context.Context, item store.PullRequest, act store.Activity) error {
			inserted = item
			if act.Action != "opened_pull_request" {
				t.Fatalf("activity action = %q", act.Action)
			}
			return nil
		},
	}
	svc := newTestService(fs, nil)

	target := 1
	pr, err := svc.CreatePullRequest(context.Background(), contributor(), "proj-1", CreatePullRequestInput{
		DocumentID:    "doc-1",
		Title:         "Adopt v2",
		SourceVersion: 2,
		TargetVersion: &target,
		ReviewerIDs:   []string{"usr-reviewer"},
	})
	if err != nil {
		t.Fatalf("CreatePullRequest: %v", err)
	}
	if pr.Status != "open" {
		t.Fatalf("Status = %q, want open", pr.Status)
	}
	if len(inserted.ReviewerIDs) != 1 || inserted.ReviewerIDs[0] != "usr-reviewer" {
		t.Fatalf("ReviewerIDs = %v", inserted.ReviewerIDs)
	}
}
