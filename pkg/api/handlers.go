package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/casetrust/anchor/pkg/evidence"
	"github.com/casetrust/anchor/pkg/record"
)

// allowedContentTypes is the evidence image allowlist. Anything else is
// refused at the door with 415.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// handleCasesRouter routes /v1/cases/{caseID}/evidence.
func (s *Server) handleCasesRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/cases/")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "evidence" {
		WriteNotFound(w, "unknown cases endpoint")
		return
	}
	caseID := parts[0]

	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, caseID)
	case http.MethodGet:
		s.handleListByCase(w, r, caseID)
	default:
		WriteMethodNotAllowed(w)
	}
}

// handleEvidenceRouter routes /v1/evidence/{artifactID}/{verify|retry|status}.
func (s *Server) handleEvidenceRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/evidence/")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		WriteNotFound(w, "unknown evidence endpoint")
		return
	}
	artifactID := parts[0]

	switch parts[1] {
	case "verify":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.handleVerify(w, r, artifactID)
	case "retry":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.handleRetry(w, r, artifactID)
	case "status":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.handleStatus(w, r, artifactID)
	default:
		WriteNotFound(w, "unknown evidence endpoint")
	}
}

// handleUpload accepts a multipart evidence upload. Fields: "file" (the
// artifact, required) and "sha256" (client-computed hash, optional). The
// response returns 202: the record is durable but anchoring is still in
// flight.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, caseID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		if isBodyTooLarge(err) {
			WritePayloadTooLarge(w, "upload exceeds the size limit")
			return
		}
		WriteBadRequest(w, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteBadRequest(w, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			WritePayloadTooLarge(w, "upload exceeds the size limit")
			return
		}
		WriteInternal(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !allowedContentTypes[contentType] {
		WriteUnsupportedMediaType(w, "only image evidence is accepted (jpeg, png, gif, webp)")
		return
	}

	receipt, err := s.evidence.Accept(r.Context(), evidence.Upload{
		CaseID:       caseID,
		Filename:     header.Filename,
		ContentType:  contentType,
		Data:         data,
		DeclaredHash: r.FormValue("sha256"),
	})
	if err != nil {
		switch {
		case errors.Is(err, evidence.ErrIntegrityMismatch):
			WriteUnprocessable(w, "declared hash does not match the received file")
		case errors.Is(err, evidence.ErrEmptyUpload):
			WriteBadRequest(w, "empty file")
		default:
			WriteInternal(w, err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleListByCase(w http.ResponseWriter, r *http.Request, caseID string) {
	records, err := s.evidence.ListByCase(r.Context(), caseID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"case_id":  caseID,
		"evidence": records,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, artifactID string) {
	result, err := s.verifier.Verify(r.Context(), artifactID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, artifactID string) {
	status, err := s.anchorer.Retry(r.Context(), artifactID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			WriteNotFound(w, "no evidence record for artifact")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"artifact_id": artifactID,
		"status":      status,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, artifactID string) {
	rec, err := s.evidence.Get(r.Context(), artifactID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			WriteNotFound(w, "no evidence record for artifact")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// isBodyTooLarge matches the MaxBytesReader limit regardless of how the
// multipart machinery surfaces it.
func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr) ||
		strings.Contains(err.Error(), "request body too large")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
