package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrVersionConflict reports that the chosen version number was taken
// by a concurrent upload. Callers retry with a fresh number.
var ErrVersionConflict = errors.New("version number already taken")

// ErrStaleStatus reports that a pull request's status changed between
// the caller's read and the conditional update, so no rows moved.
var ErrStaleStatus = errors.New("pull request status changed concurrently")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id, owner_name, status, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Name, item.Description, item.OwnerID, item.OwnerName, item.Status, item.IsPublic)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, owner_name, status, is_public, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.OwnerName, &item.Status, &item.IsPublic, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, owner_id, owner_name, status, is_public, created_at, updated_at
		FROM projects
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.OwnerName, &item.Status, &item.IsPublic, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddCollaborator(ctx context.Context, projectID, userID, userName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_collaborators (project_id, user_id, user_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID, userName)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsCollaborator(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_collaborators WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, file_kind, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ProjectID, item.Name, item.FileKind, item.Description, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, file_kind, description, created_by, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.FileKind, &item.Description, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, file_kind, description, created_by, created_at, updated_at
		FROM documents
		WHERE project_id=$1
		ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.FileKind, &item.Description, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// MaxVersionNumber returns 0 for a document with no versions yet.
func (s *PostgresStore) MaxVersionNumber(ctx context.Context, documentID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM versions WHERE document_id=$1
	`, documentID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return max, nil
}

// InsertVersion writes the version row and its upload activity in one
// transaction. A duplicate (document_id, version_number) maps to
// ErrVersionConflict so the allocator can retry.
func (s *PostgresStore) InsertVersion(ctx context.Context, item Version, act Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, document_id, version_number, object_key, file_size, change_summary, extracted_text, uploaded_by, uploaded_by_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.DocumentID, item.VersionNumber, item.ObjectKey, item.FileSize, item.ChangeSummary, item.ExtractedText, item.UploadedBy, item.UploadedByName, item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET updated_at=$2 WHERE id=$1
	`, item.DocumentID, item.CreatedAt); err != nil {
		return fmt.Errorf("touch document: %w", err)
	}

	if err := insertActivityTx(ctx, tx, act); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, number int) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_number, object_key, file_size, change_summary, extracted_text, uploaded_by, uploaded_by_name, created_at
		FROM versions
		WHERE document_id=$1 AND version_number=$2
	`, documentID, number).Scan(&item.ID, &item.DocumentID, &item.VersionNumber, &item.ObjectKey, &item.FileSize, &item.ChangeSummary, &item.ExtractedText, &item.UploadedBy, &item.UploadedByName, &item.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_number, object_key, file_size, change_summary, extracted_text, uploaded_by, uploaded_by_name, created_at
		FROM versions
		WHERE document_id=$1
		ORDER BY version_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.VersionNumber, &item.ObjectKey, &item.FileSize, &item.ChangeSummary, &item.ExtractedText, &item.UploadedBy, &item.UploadedByName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// InsertPullRequest writes the pull request, its assigned reviewers and
// the creation activity in one transaction.
func (s *PostgresStore) InsertPullRequest(ctx context.Context, item PullRequest, act Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pull request tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pull_requests (id, project_id, document_id, title, description, source_version, target_version, status, created_by, created_by_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, item.ID, item.ProjectID, item.DocumentID, item.Title, item.Description, item.SourceVersion, item.TargetVersion, item.Status, item.CreatedBy, item.CreatedByName, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pull request: %w", err)
	}

	for _, reviewerID := range item.ReviewerIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pull_request_reviewers (pull_request_id, reviewer_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, item.ID, reviewerID); err != nil {
			return fmt.Errorf("insert pull request reviewer: %w", err)
		}
	}

	if err := insertActivityTx(ctx, tx, act); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pull request tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPullRequest(ctx context.Context, pullRequestID string) (PullRequest, error) {
	var item PullRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, document_id, title, description, source_version, target_version, status, created_by, created_by_name, created_at, updated_at, merged_at, merged_by
		FROM pull_requests
		WHERE id=$1
	`, pullRequestID).Scan(&item.ID, &item.ProjectID, &item.DocumentID, &item.Title, &item.Description, &item.SourceVersion, &item.TargetVersion, &item.Status, &item.CreatedBy, &item.CreatedByName, &item.CreatedAt, &item.UpdatedAt, &item.MergedAt, &item.MergedBy)
	if err != nil {
		return PullRequest{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT reviewer_id FROM pull_request_reviewers WHERE pull_request_id=$1 ORDER BY reviewer_id
	`, pullRequestID)
	if err != nil {
		return PullRequest{}, fmt.Errorf("list pull request reviewers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reviewerID string
		if err := rows.Scan(&reviewerID); err != nil {
			return PullRequest{}, fmt.Errorf("scan reviewer: %w", err)
		}
		item.ReviewerIDs = append(item.ReviewerIDs, reviewerID)
	}
	if err := rows.Err(); err != nil {
		return PullRequest{}, fmt.Errorf("iterate reviewers: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListPullRequestsByProject(ctx context.Context, projectID string) ([]PullRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, title, description, source_version, target_version, status, created_by, created_by_name, created_at, updated_at, merged_at, merged_by
		FROM pull_requests
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer rows.Close()

	items := make([]PullRequest, 0)
	for rows.Next() {
		var item PullRequest
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.DocumentID, &item.Title, &item.Description, &item.SourceVersion, &item.TargetVersion, &item.Status, &item.CreatedBy, &item.CreatedByName, &item.CreatedAt, &item.UpdatedAt, &item.MergedAt, &item.MergedBy); err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsAssignedReviewer(ctx context.Context, pullRequestID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pull_request_reviewers WHERE pull_request_id=$1 AND reviewer_id=$2)
	`, pullRequestID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check assigned reviewer: %w", err)
	}
	return exists, nil
}

// TransitionPullRequest moves a pull request from one status to another
// with a conditional update, appending the review record (when given)
// and the activity event in the same transaction. ErrStaleStatus means
// the row was no longer in fromStatus.
func (s *PostgresStore) TransitionPullRequest(ctx context.Context, pullRequestID, fromStatus, toStatus string, at time.Time, rev *Review, act Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pull_requests SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2
	`, pullRequestID, fromStatus, toStatus, at)
	if err != nil {
		return fmt.Errorf("update pull request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}

	if rev != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (id, pull_request_id, reviewer_id, reviewer_name, decision, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rev.ID, rev.PullRequestID, rev.ReviewerID, rev.ReviewerName, rev.Decision, rev.Comment, rev.CreatedAt); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}

	if err := insertActivityTx(ctx, tx, act); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}
	return nil
}

// MergePullRequest is the merge-specific transition: it also stamps
// merged_at and merged_by on the row.
func (s *PostgresStore) MergePullRequest(ctx context.Context, pullRequestID, mergedByID string, mergedAt time.Time, act Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pull_requests
		SET status='merged', merged_at=$2, merged_by=$3, updated_at=$2
		WHERE id=$1 AND status='approved'
	`, pullRequestID, mergedAt, mergedByID)
	if err != nil {
		return fmt.Errorf("merge pull request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merge rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}

	if err := insertActivityTx(ctx, tx, act); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, pullRequestID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pull_request_id, reviewer_id, reviewer_name, decision, comment, created_at
		FROM reviews
		WHERE pull_request_id=$1
		ORDER BY created_at DESC
	`, pullRequestID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.PullRequestID, &item.ReviewerID, &item.ReviewerName, &item.Decision, &item.Comment, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

func insertActivityTx(ctx context.Context, tx *sql.Tx, act Activity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activities (actor_id, actor_name, action, target_type, target_id, target_name, project_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, act.ActorID, act.ActorName, act.Action, act.TargetType, act.TargetID, act.TargetName, act.ProjectID, act.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, action, target_type, target_id, target_name, project_id, created_at
		FROM activities
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		if err := rows.Scan(&item.ID, &item.ActorID, &item.ActorName, &item.Action, &item.TargetType, &item.TargetID, &item.TargetName, &item.ProjectID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}
