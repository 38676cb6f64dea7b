package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ni2-vsv11/DocTrack/internal/blob"
	"github.com/ni2-vsv11/DocTrack/internal/compare"
	"github.com/ni2-vsv11/DocTrack/internal/config"
	"github.com/ni2-vsv11/DocTrack/internal/ledger"
	"github.com/ni2-vsv11/DocTrack/internal/rbac"
	"github.com/ni2-vsv11/DocTrack/internal/review"
	"github.com/ni2-vsv11/DocTrack/internal/search"
	"github.com/ni2-vsv11/DocTrack/internal/store"
	"github.com/ni2-vsv11/DocTrack/internal/util"
)

// Identity is the authenticated caller as asserted by the fronting
// gateway. Authentication itself happens upstream; this service only
// consumes the result.
type Identity struct {
	ID   string
	Name string
	Role rbac.Role
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

type CreateDocumentInput struct {
	Name        string `json:"name"`
	FileKind    string `json:"file_kind"`
	Description string `json:"description"`
}

type UploadVersionInput struct {
	Filename      string
	ContentType   string
	Size          int64
	Content       io.Reader
	ChangeSummary string
	ExtractedText *string
}

type CreatePullRequestInput struct {
	DocumentID    string   `json:"document_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SourceVersion int      `json:"source_version"`
	TargetVersion *int     `json:"target_version"`
	ReviewerIDs   []string `json:"reviewer_ids"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjects(context.Context) ([]store.Project, error)
	AddCollaborator(ctx context.Context, projectID, userID, userName string) error
	IsCollaborator(ctx context.Context, projectID, userID string) (bool, error)
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsByProject(context.Context, string) ([]store.Document, error)
	GetVersion(ctx context.Context, documentID string, number int) (store.Version, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	InsertPullRequest(context.Context, store.PullRequest, store.Activity) error
	GetPullRequest(context.Context, string) (store.PullRequest, error)
	ListPullRequestsByProject(context.Context, string) ([]store.PullRequest, error)
	IsAssignedReviewer(ctx context.Context, pullRequestID, userID string) (bool, error)
	TransitionPullRequest(ctx context.Context, pullRequestID, fromStatus, toStatus string, at time.Time, rev *store.Review, act store.Activity) error
	MergePullRequest(ctx context.Context, pullRequestID, mergedByID string, mergedAt time.Time, act store.Activity) error
	ListReviews(context.Context, string) ([]store.Review, error)
	ListActivities(ctx context.Context, limit int) ([]store.Activity, error)
}

type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

type compareCache interface {
	Get(ctx context.Context, documentID string, from, to int) (compare.Result, bool, error)
	Set(ctx context.Context, documentID string, from, to int, result compare.Result) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	alloc  *ledger.Allocator
	blobs  blobStore
	cache  compareCache
	search *search.Service
	now    func() time.Time
}

// New wires the service. cache and searchSvc may be nil; comparisons
// then recompute every time and search returns empty responses.
func New(cfg config.Config, dataStore dataStore, alloc *ledger.Allocator, blobs blobStore, cache compareCache, searchSvc *search.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		alloc:  alloc,
		blobs:  blobs,
		cache:  cache,
		search: searchSvc,
		now:    time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports per-dependency health. Only the database gates
// readiness; cache and search degrade gracefully.
func (s *Service) Readiness(ctx context.Context) (map[string]any, bool) {
	checks := map[string]any{}
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}

	if pinger, ok := s.cache.(interface{ Ping(context.Context) error }); ok && pinger != nil {
		if err := pinger.Ping(ctx); err != nil {
			checks["cache"] = map[string]any{"status": "degraded", "error": err.Error()}
		} else {
			checks["cache"] = map[string]any{"status": "ok"}
		}
	}

	return checks, ready
}

// Bootstrap seeds a demo project on an empty database and pushes
// existing rows into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		now := s.now().UTC()
		project := store.Project{
			ID:          util.NewID("proj"),
			Name:        "Getting Started",
			Description: "Sample project. Upload a document version to see comparisons in action.",
			OwnerID:     "usr_system",
			OwnerName:   "System",
			Status:      "active",
			IsPublic:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.InsertProject(ctx, project); err != nil {
			return err
		}
		doc := store.Document{
			ID:          util.NewID("doc"),
			ProjectID:   project.ID,
			Name:        "Welcome",
			FileKind:    "other",
			Description: "Demo document",
			CreatedBy:   "usr_system",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.InsertDocument(ctx, doc); err != nil {
			return err
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) CreateProject(ctx context.Context, ident Identity, input CreateProjectInput) (store.Project, error) {
	if !rbac.Can(ident.Role, rbac.ActionCreateProject) {
		return store.Project{}, domainError(http.StatusForbidden, "FORBIDDEN", "role may not create projects", nil)
	}
	if input.Name == "" {
		return store.Project{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "project name is required", nil)
	}

	now := s.now().UTC()
	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     ident.ID,
		OwnerName:   ident.Name,
		Status:      "active",
		IsPublic:    input.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

func (s *Service) CreateDocument(ctx context.Context, ident Identity, projectID string, input CreateDocumentInput) (store.Document, error) {
	if !rbac.Can(ident.Role, rbac.ActionUpload) {
		return store.Document{}, domainError(http.StatusForbidden, "FORBIDDEN", "role may not create documents", nil)
	}
	if input.Name == "" {
		return store.Document{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "document name is required", nil)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return store.Document{}, err
	}

	kind := compare.ParseFileKind(input.FileKind)

	now := s.now().UTC()
	doc := store.Document{
		ID:          util.NewID("doc"),
		ProjectID:   projectID,
		Name:        input.Name,
		FileKind:    string(kind),
		Description: input.Description,
		CreatedBy:   ident.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}

	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:          doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			ProjectID:   doc.ProjectID,
			FileKind:    doc.FileKind,
		})
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, projectID string) ([]store.Document, error) {
	return s.store.ListDocumentsByProject(ctx, projectID)
}

// UploadVersion stores the payload in object storage, then lets the
// allocator assign the next number and persist the row with its upload
// activity.
func (s *Service) UploadVersion(ctx context.Context, ident Identity, projectID, documentID string, input UploadVersionInput) (store.Version, error) {
	if !rbac.Can(ident.Role, rbac.ActionUpload) {
		return store.Version{}, domainError(http.StatusForbidden, "FORBIDDEN", "role may not upload versions", nil)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Version{}, err
	}
	if doc.ProjectID != projectID {
		return store.Version{}, domainError(http.StatusNotFound, "NOT_FOUND", "document not in project", nil)
	}

	key := blob.ObjectKey(projectID, documentID, input.Filename)
	if err := s.blobs.Put(ctx, key, input.Content, input.Size, input.ContentType); err != nil {
		return store.Version{}, fmt.Errorf("store version content: %w", err)
	}

	version, err := s.alloc.Allocate(ctx, ledger.Draft{
		DocumentID:     documentID,
		ObjectKey:      key,
		FileSize:       input.Size,
		ChangeSummary:  input.ChangeSummary,
		ExtractedText:  input.ExtractedText,
		UploadedBy:     ident.ID,
		UploadedByName: ident.Name,
	}, store.Activity{
		ActorID:    ident.ID,
		ActorName:  ident.Name,
		Action:     "uploaded_version",
		TargetType: "version",
		TargetName: doc.Name,
		ProjectID:  projectID,
	})
	if err != nil {
		if isAllocationExhausted(err) {
			return store.Version{}, domainError(http.StatusConflict, "VERSION_CONFLICT", "could not allocate a version number, retry the upload", nil)
		}
		return store.Version{}, err
	}
	return version, nil
}

func (s *Service) ListVersions(ctx context.Context, projectID, documentID string) ([]store.Version, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ProjectID != projectID {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "document not in project", nil)
	}
	return s.store.ListVersions(ctx, documentID)
}

// CompareVersions computes (or serves from cache) the full comparison
// between two versions of a document. Versions never change after
// upload, so a cache hit needs no freshness check.
func (s *Service) CompareVersions(ctx context.Context, projectID, documentID string, from, to int) (compare.Result, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return compare.Result{}, err
	}
	if doc.ProjectID != projectID {
		return compare.Result{}, domainError(http.StatusNotFound, "NOT_FOUND", "document not in project", nil)
	}

	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, documentID, from, to); err == nil && ok {
			return cached, nil
		} else if err != nil {
			log.Printf("compare cache get %s %d..%d: %v", documentID, from, to, err)
		}
	}

	fromVersion, err := s.store.GetVersion(ctx, documentID, from)
	if err != nil {
		return compare.Result{}, err
	}
	toVersion, err := s.store.GetVersion(ctx, documentID, to)
	if err != nil {
		return compare.Result{}, err
	}

	result := compare.Compare(
		fromVersion.ExtractedText,
		toVersion.ExtractedText,
		fmt.Sprintf("v%d", from),
		fmt.Sprintf("v%d", to),
	)

	if s.cache != nil {
		if err := s.cache.Set(ctx, documentID, from, to, result); err != nil {
			log.Printf("compare cache set %s %d..%d: %v", documentID, from, to, err)
		}
	}
	return result, nil
}

func (s *Service) CreatePullRequest(ctx context.Context, ident Identity, projectID string, input CreatePullRequestInput) (store.PullRequest, error) {
	if !rbac.Can(ident.Role, rbac.ActionCreatePR) {
		return store.PullRequest{}, domainError(http.StatusForbidden, "FORBIDDEN", "role may not create pull requests", nil)
	}
	if input.Title == "" {
		return store.PullRequest{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "pull request title is required", nil)
	}

	doc, err := s.store.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return store.PullRequest{}, err
	}
	if doc.ProjectID != projectID {
		return store.PullRequest{}, domainError(http.StatusNotFound, "NOT_FOUND", "document not in project", nil)
	}

	if _, err := s.store.GetVersion(ctx, input.DocumentID, input.SourceVersion); err != nil {
		return store.PullRequest{}, err
	}
	if input.TargetVersion != nil {
		if _, err := s.store.GetVersion(ctx, input.DocumentID, *input.TargetVersion); err != nil {
			return store.PullRequest{}, err
		}
	}

	now := s.now().UTC()
	pr := store.PullRequest{
		ID:            util.NewID("pr"),
		ProjectID:     projectID,
		DocumentID:    input.DocumentID,
		Title:         input.Title,
		Description:   input.Description,
		SourceVersion: input.SourceVersion,
		TargetVersion: input.TargetVersion,
		Status:        string(review.InitialStatus),
		CreatedBy:     ident.ID,
		CreatedByName: ident.Name,
		ReviewerIDs:   input.ReviewerIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.store.InsertPullRequest(ctx, pr, store.Activity{
		ActorID:    ident.ID,
		ActorName:  ident.Name,
		Action:     "opened_pull_request",
		TargetType: "pull_request",
		TargetID:   pr.ID,
		TargetName: pr.Title,
		ProjectID:  projectID,
		CreatedAt:  now,
	})
	if err != nil {
		return store.PullRequest{}, err
	}

	s.indexPullRequest(pr)
	return pr, nil
}

func (s *Service) GetPullRequest(ctx context.Context, pullRequestID string) (store.PullRequest, []store.Review, error) {
	pr, err := s.store.GetPullRequest(ctx, pullRequestID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	reviews, err := s.store.ListReviews(ctx, pullRequestID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	return pr, reviews, nil
}

func (s *Service) ListPullRequests(ctx context.Context, projectID string) ([]store.PullRequest, error) {
	return s.store.ListPullRequestsByProject(ctx, projectID)
}

// ApprovePullRequest validates the transition against the workflow
// rules, then applies status change, review record and activity in one
// store transaction.
func (s *Service) ApprovePullRequest(ctx context.Context, ident Identity, pullRequestID string) (store.PullRequest, error) {
	pr, err := s.store.GetPullRequest(ctx, pullRequestID)
	if err != nil {
		return store.PullRequest{}, err
	}
	actor, err := s.resolveActor(ctx, ident, pr)
	if err != nil {
		return store.PullRequest{}, err
	}

	now := s.now().UTC()
	rec, err := review.Approve(workflowView(pr), actor, now)
	if err != nil {
		return store.PullRequest{}, reviewError(err)
	}

	row := reviewRow(rec)
	err = s.store.TransitionPullRequest(ctx, pr.ID, string(review.StatusOpen), string(review.StatusApproved), now, &row, store.Activity{
		ActorID:    ident.ID,
		ActorName:  ident.Name,
		Action:     "approved_pull_request",
		TargetType: "pull_request",
		TargetID:   pr.ID,
		TargetName: pr.Title,
		ProjectID:  pr.ProjectID,
		CreatedAt:  now,
	})
	if err != nil {
		return store.PullRequest{}, transitionError(err, "approve")
	}

	pr.Status = string(review.StatusApproved)
	pr.UpdatedAt = now
	s.indexPullRequest(pr)
	return pr, nil
}

func (s *Service) RejectPullRequest(ctx context.Context, ident Identity, pullRequestID, comment string) (store.PullRequest, error) {
	pr, err := s.store.GetPullRequest(ctx, pullRequestID)
	if err != nil {
		return store.PullRequest{}, err
	}
	actor, err := s.resolveActor(ctx, ident, pr)
	if err != nil {
		return store.PullRequest{}, err
	}

	now := s.now().UTC()
	rec, err := review.Reject(workflowView(pr), actor, comment, now)
	if err != nil {
		return store.PullRequest{}, reviewError(err)
	}

	row := reviewRow(rec)
	err = s.store.TransitionPullRequest(ctx, pr.ID, string(review.StatusOpen), string(review.StatusRejected), now, &row, store.Activity{
		ActorID:    ident.ID,
		ActorName:  ident.Name,
		Action:     "rejected_pull_request",
		TargetType: "pull_request",
		TargetID:   pr.ID,
		TargetName: pr.Title,
		ProjectID:  pr.ProjectID,
		CreatedAt:  now,
	})
	if err != nil {
		return store.PullRequest{}, transitionError(err, "reject")
	}

	pr.Status = string(review.StatusRejected)
	pr.UpdatedAt = now
	s.indexPullRequest(pr)
	return pr, nil
}

func (s *Service) MergePullRequest(ctx context.Context, ident Identity, pullRequestID string) (store.PullRequest, error) {
	pr, err := s.store.GetPullRequest(ctx, pullRequestID)
	if err != nil {
		return store.PullRequest{}, err
	}
	actor, err := s.resolveActor(ctx, ident, pr)
	if err != nil {
		return store.PullRequest{}, err
	}

	now := s.now().UTC()
	rec, err := review.Merge(workflowView(pr), actor, now)
	if err != nil {
		return store.PullRequest{}, reviewError(err)
	}

	err = s.store.MergePullRequest(ctx, pr.ID, rec.MergedByID, rec.MergedAt, store.Activity{
		ActorID:    ident.ID,
		ActorName:  ident.Name,
		Action:     "merged_pull_request",
		TargetType: "pull_request",
		TargetID:   pr.ID,
		TargetName: pr.Title,
		ProjectID:  pr.ProjectID,
		CreatedAt:  now,
	})
	if err != nil {
		return store.PullRequest{}, transitionError(err, "merge")
	}

	pr.Status = string(review.StatusMerged)
	pr.UpdatedAt = now
	pr.MergedAt = &rec.MergedAt
	pr.MergedBy = &rec.MergedByID
	s.indexPullRequest(pr)
	return pr, nil
}

func (s *Service) ActivityFeed(ctx context.Context, limit int) ([]store.Activity, error) {
	return s.store.ListActivities(ctx, limit)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// resolveActor loads the authorization attributes the workflow needs
// and bundles them with the identity. The actor is always passed to the
// workflow explicitly.
func (s *Service) resolveActor(ctx context.Context, ident Identity, pr store.PullRequest) (review.Actor, error) {
	project, err := s.store.GetProject(ctx, pr.ProjectID)
	if err != nil {
		return review.Actor{}, err
	}
	collaborator, err := s.store.IsCollaborator(ctx, pr.ProjectID, ident.ID)
	if err != nil {
		return review.Actor{}, err
	}
	assigned, err := s.store.IsAssignedReviewer(ctx, pr.ID, ident.ID)
	if err != nil {
		return review.Actor{}, err
	}
	return review.Actor{
		ID:                 ident.ID,
		Name:               ident.Name,
		IsProjectOwner:     project.OwnerID == ident.ID,
		IsCollaborator:     collaborator,
		IsAssignedReviewer: assigned,
	}, nil
}

func (s *Service) indexPullRequest(pr store.PullRequest) {
	if s.search == nil {
		return
	}
	s.search.IndexPullRequest(search.PullRequestRecord{
		ID:          pr.ID,
		Title:       pr.Title,
		Description: pr.Description,
		ProjectID:   pr.ProjectID,
		DocumentID:  pr.DocumentID,
		Status:      pr.Status,
	})
}

func workflowView(pr store.PullRequest) review.PullRequest {
	return review.PullRequest{
		ID:        pr.ID,
		ProjectID: pr.ProjectID,
		Title:     pr.Title,
		Status:    review.Status(pr.Status),
		CreatedBy: pr.CreatedBy,
	}
}

func isAllocationExhausted(err error) bool {
	return errors.Is(err, ledger.ErrAllocationExhausted)
}

// reviewError maps workflow refusals onto HTTP-facing domain errors. A
// denied actor and an invalid transition are both safe to report with
// the current status; nothing was changed in either case.
func reviewError(err error) error {
	var ite *review.InvalidTransitionError
	if errors.As(err, &ite) {
		return domainError(http.StatusConflict, "INVALID_TRANSITION", ite.Error(), map[string]any{"status": string(ite.Status)})
	}
	if errors.Is(err, review.ErrNotAuthorized) {
		return domainError(http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	}
	return err
}

// transitionError maps a lost conditional update to a conflict. The
// caller validated against a snapshot; another request won the race.
func transitionError(err error, action string) error {
	if errors.Is(err, store.ErrStaleStatus) {
		return domainError(http.StatusConflict, "INVALID_TRANSITION", fmt.Sprintf("cannot %s, pull request status changed concurrently", action), nil)
	}
	return err
}

func reviewRow(rec review.Review) store.Review {
	return store.Review{
		ID:            util.NewID("rev"),
		PullRequestID: rec.PullRequestID,
		ReviewerID:    rec.ReviewerID,
		ReviewerName:  rec.ReviewerName,
		Decision:      string(rec.Decision),
		Comment:       rec.Comment,
		CreatedAt:     rec.CreatedAt,
	}
}
