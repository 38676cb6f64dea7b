package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ni2-vsv11/DocTrack/internal/rbac"
	"github.com/ni2-vsv11/DocTrack/internal/search"
	"github.com/ni2-vsv11/DocTrack/internal/store"
)

// Identity headers set by the fronting gateway after it authenticates
// the caller. Requests without a user ID can only reach read endpoints.
const (
	headerUserID   = "X-Doctrack-User-Id"
	headerUserName = "X-Doctrack-User-Name"
	headerUserRole = "X-Doctrack-User-Role"
)

const maxUploadBytes = 64 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks, ready := s.service.Readiness(ctx)
		statusCode := http.StatusOK
		if !ready {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"checks": checks,
		})
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) == 0 || segments[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	segments = segments[1:]

	ident := identityFrom(r)

	switch {
	case len(segments) == 1 && segments[0] == "projects":
		switch r.Method {
		case http.MethodGet:
			s.handleListProjects(w, r)
		case http.MethodPost:
			s.handleCreateProject(w, r, ident)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return

	case len(segments) == 2 && segments[0] == "projects" && r.Method == http.MethodGet:
		s.handleGetProject(w, r, segments[1])
		return

	case len(segments) == 3 && segments[0] == "projects" && segments[2] == "documents":
		switch r.Method {
		case http.MethodGet:
			s.handleListDocuments(w, r, segments[1])
		case http.MethodPost:
			s.handleCreateDocument(w, r, ident, segments[1])
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return

	case len(segments) == 5 && segments[0] == "projects" && segments[2] == "documents" && segments[4] == "versions":
		switch r.Method {
		case http.MethodGet:
			s.handleListVersions(w, r, segments[1], segments[3])
		case http.MethodPost:
			s.handleUploadVersion(w, r, ident, segments[1], segments[3])
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return

	case len(segments) == 5 && segments[0] == "projects" && segments[2] == "documents" && segments[4] == "compare" && r.Method == http.MethodGet:
		s.handleCompare(w, r, segments[1], segments[3])
		return

	case len(segments) == 3 && segments[0] == "projects" && segments[2] == "pulls":
		switch r.Method {
		case http.MethodGet:
			s.handleListPullRequests(w, r, segments[1])
		case http.MethodPost:
			s.handleCreatePullRequest(w, r, ident, segments[1])
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return

	case len(segments) == 2 && segments[0] == "pulls" && r.Method == http.MethodGet:
		s.handleGetPullRequest(w, r, segments[1])
		return

	case len(segments) == 3 && segments[0] == "pulls" && r.Method == http.MethodPost:
		s.handlePullRequestAction(w, r, ident, segments[1], segments[2])
		return

	case len(segments) == 1 && segments[0] == "activity" && r.Method == http.MethodGet:
		s.handleActivity(w, r)
		return

	case len(segments) == 1 && segments[0] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		payload = append(payload, projectJSON(project))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request, ident Identity) {
	if !requireUser(w, ident) {
		return
	}
	var input CreateProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateProject(r.Context(), ident, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectJSON(project))
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request, projectID string) {
	project, err := s.service.GetProject(r.Context(), projectID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectJSON(project))
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, projectID string) {
	documents, err := s.service.ListDocuments(r.Context(), projectID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		payload = append(payload, documentJSON(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, ident Identity, projectID string) {
	if !requireUser(w, ident) {
		return
	}
	var input CreateDocumentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), ident, projectID, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(doc))
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, projectID, documentID string) {
	versions, err := s.service.ListVersions(r.Context(), projectID, documentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		payload = append(payload, versionJSON(version))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
}

func (s *HTTPServer) handleUploadVersion(w http.ResponseWriter, r *http.Request, ident Identity, projectID, documentID string) {
	if !requireUser(w, ident) {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	var extracted *string
	if values, ok := r.MultipartForm.Value["extracted_text"]; ok && len(values) > 0 {
		extracted = &values[0]
	}

	version, err := s.service.UploadVersion(r.Context(), ident, projectID, documentID, UploadVersionInput{
		Filename:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Size:          header.Size,
		Content:       file,
		ChangeSummary: r.FormValue("change_summary"),
		ExtractedText: extracted,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, versionJSON(version))
}

func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request, projectID, documentID string) {
	from, errFrom := strconv.Atoi(r.URL.Query().Get("from"))
	to, errTo := strconv.Atoi(r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "from and to must be version numbers", nil)
		return
	}

	result, err := s.service.CompareVersions(r.Context(), projectID, documentID, from, to)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListPullRequests(w http.ResponseWriter, r *http.Request, projectID string) {
	pulls, err := s.service.ListPullRequests(r.Context(), projectID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(pulls))
	for _, pr := range pulls {
		payload = append(payload, pullRequestJSON(pr))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pull_requests": payload})
}

func (s *HTTPServer) handleCreatePullRequest(w http.ResponseWriter, r *http.Request, ident Identity, projectID string) {
	if !requireUser(w, ident) {
		return
	}
	var input CreatePullRequestInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	pr, err := s.service.CreatePullRequest(r.Context(), ident, projectID, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pullRequestJSON(pr))
}

func (s *HTTPServer) handleGetPullRequest(w http.ResponseWriter, r *http.Request, pullRequestID string) {
	pr, reviews, err := s.service.GetPullRequest(r.Context(), pullRequestID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := pullRequestJSON(pr)
	reviewList := make([]map[string]any, 0, len(reviews))
	for _, rec := range reviews {
		reviewList = append(reviewList, reviewJSON(rec))
	}
	payload["reviews"] = reviewList

	// A pull request with a target version carries its comparison
	// inline; the result is cached, so repeat views are cheap.
	if pr.TargetVersion != nil {
		result, err := s.service.CompareVersions(r.Context(), pr.ProjectID, pr.DocumentID, *pr.TargetVersion, pr.SourceVersion)
		if err != nil {
			log.Printf("pull request %s comparison: %v", pr.ID, err)
		} else {
			payload["comparison"] = result
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePullRequestAction(w http.ResponseWriter, r *http.Request, ident Identity, pullRequestID, action string) {
	if !requireUser(w, ident) {
		return
	}

	var (
		pr  store.PullRequest
		err error
	)
	switch action {
	case "approve":
		pr, err = s.service.ApprovePullRequest(r.Context(), ident, pullRequestID)
	case "reject":
		var body struct {
			Comment string `json:"comment"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		pr, err = s.service.RejectPullRequest(r.Context(), ident, pullRequestID, body.Comment)
	case "merge":
		pr, err = s.service.MergePullRequest(r.Context(), ident, pullRequestID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pullRequestJSON(pr))
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activities, err := s.service.ActivityFeed(r.Context(), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(activities))
	for _, act := range activities {
		payload = append(payload, activityJSON(act))
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": payload})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response := s.service.Search(search.Query{
		Text:            query.Get("q"),
		FilterType:      search.ResultType(query.Get("type")),
		FilterProjectID: query.Get("project"),
		Limit:           limit,
		Offset:          offset,
	})
	writeJSON(w, http.StatusOK, response)
}

func projectJSON(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"owner_id":    project.OwnerID,
		"owner_name":  project.OwnerName,
		"status":      project.Status,
		"is_public":   project.IsPublic,
		"created_at":  project.CreatedAt,
		"updated_at":  project.UpdatedAt,
	}
}

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"project_id":  doc.ProjectID,
		"name":        doc.Name,
		"file_kind":   doc.FileKind,
		"description": doc.Description,
		"created_by":  doc.CreatedBy,
		"created_at":  doc.CreatedAt,
		"updated_at":  doc.UpdatedAt,
	}
}

func versionJSON(version store.Version) map[string]any {
	return map[string]any{
		"id":               version.ID,
		"document_id":      version.DocumentID,
		"version_number":   version.VersionNumber,
		"file_size":        version.FileSize,
		"change_summary":   version.ChangeSummary,
		"uploaded_by":      version.UploadedBy,
		"uploaded_by_name": version.UploadedByName,
		"created_at":       version.CreatedAt,
	}
}

func pullRequestJSON(pr store.PullRequest) map[string]any {
	return map[string]any{
		"id":              pr.ID,
		"project_id":      pr.ProjectID,
		"document_id":     pr.DocumentID,
		"title":           pr.Title,
		"description":     pr.Description,
		"source_version":  pr.SourceVersion,
		"target_version":  pr.TargetVersion,
		"status":          pr.Status,
		"created_by":      pr.CreatedBy,
		"created_by_name": pr.CreatedByName,
		"reviewer_ids":    pr.ReviewerIDs,
		"created_at":      pr.CreatedAt,
		"updated_at":      pr.UpdatedAt,
		"merged_at":       pr.MergedAt,
		"merged_by":       pr.MergedBy,
	}
}

func reviewJSON(rec store.Review) map[string]any {
	return map[string]any{
		"id":              rec.ID,
		"pull_request_id": rec.PullRequestID,
		"reviewer_id":     rec.ReviewerID,
		"reviewer_name":   rec.ReviewerName,
		"decision":        rec.Decision,
		"comment":         rec.Comment,
		"created_at":      rec.CreatedAt,
	}
}

func activityJSON(act store.Activity) map[string]any {
	return map[string]any{
		"id":          act.ID,
		"actor_id":    act.ActorID,
		"actor_name":  act.ActorName,
		"action":      act.Action,
		"target_type": act.TargetType,
		"target_id":   act.TargetID,
		"target_name": act.TargetName,
		"project_id":  act.ProjectID,
		"created_at":  act.CreatedAt,
	}
}

func identityFrom(r *http.Request) Identity {
	return Identity{
		ID:   strings.TrimSpace(r.Header.Get(headerUserID)),
		Name: strings.TrimSpace(r.Header.Get(headerUserName)),
		Role: rbac.Normalize(r.Header.Get(headerUserRole)),
	}
}

func requireUser(w http.ResponseWriter, ident Identity) bool {
	if ident.ID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+headerUserID+", "+headerUserName+", "+headerUserRole)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
