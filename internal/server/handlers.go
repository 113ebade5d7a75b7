package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"share-go/internal/share"
)

var errDownloadAborted = errors.New("download handler aborted")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadedFile is one entry of the upload response.
type uploadedFile struct {
	Name  string `json:"name"`
	Code  string `json:"code,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

type uploadResponse struct {
	Codes []string       `json:"codes"`
	Files []uploadedFile `json:"files"`
}

// handleUpload accepts a multipart form with one or more "files" parts and
// the policy fields expiresIn, expiresUnit, password, maxDownloads and
// customFilename. Every file gets its own code under the same policy.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	policy, err := policyFromForm(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationError, "field 'files' is required")
		return
	}

	files := make([]share.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.logger.Error("opening uploaded part failed", "name", fh.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternalError, "reading upload failed")
			return
		}
		defer f.Close()
		files = append(files, share.UploadFile{Name: fh.Filename, Body: f})
	}

	results, err := s.registry.Upload(r.Context(), files, policy)
	if err != nil {
		status, code := uploadStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	resp := uploadResponse{Codes: []string{}, Files: make([]uploadedFile, len(results))}
	var firstErr error
	for i, res := range results {
		resp.Files[i].Name = res.Name
		if res.Err != nil {
			uploadsTotal.WithLabelValues(uploadResult(res.Err)).Inc()
			resp.Files[i].Error = res.Err.Error()
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		uploadsTotal.WithLabelValues("created").Inc()
		resp.Codes = append(resp.Codes, res.Code)
		resp.Files[i].Code = res.Code
		resp.Files[i].URL = s.downloadURL(res.Code)
	}

	if len(resp.Codes) == 0 {
		status, code := uploadStatus(firstErr)
		writeError(w, status, code, firstErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func uploadResult(err error) string {
	switch {
	case errors.Is(err, share.ErrRejectedPayload):
		return "rejected"
	case errors.Is(err, share.ErrClassifierUnavailable):
		return "scanner_unavailable"
	default:
		return "failed"
	}
}

// policyFromForm reads the share policy from the upload form. Empty fields
// leave the corresponding policy unset.
func policyFromForm(form *multipart.Form) (share.Policy, error) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	var p share.Policy
	if raw := value("expiresIn"); raw != "" {
		amount, err := strconv.Atoi(raw)
		if err != nil {
			return p, fmt.Errorf("expiresIn must be an integer, got %q", raw)
		}
		d := share.ParseExpiry(amount, value("expiresUnit"))
		p.ExpiresIn = &d
	}
	if raw := value("maxDownloads"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, fmt.Errorf("maxDownloads must be a non-negative integer, got %q", raw)
		}
		p.MaxDownloads = n
	}
	if v := form.Value["password"]; len(v) > 0 {
		p.Password = v[0]
	}
	p.DisplayName = value("customFilename")

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// handleDownload streams the payload for a code. The confirm variant is the
// entry point for downloads of flagged files after the user saw the warning.
func (s *Server) handleDownload(confirmed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		password := r.URL.Query().Get("password")

		tr, err := s.registry.Open(r.Context(), code, password, confirmed)
		if err != nil {
			s.writeAccessError(w, code, err)
			return
		}
		accessVerdictsTotal.WithLabelValues(share.ReasonAllow.String()).Inc()

		// The client may be gone; the retirement must still be applied.
		finishCtx := context.WithoutCancel(r.Context())
		finished := false
		defer func() {
			if !finished {
				tr.Finish(finishCtx, errDownloadAborted)
			}
		}()

		contentType := tr.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := w.Header()
		h.Set("Content-Type", contentType)
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": tr.Name}))
		h.Set("Cache-Control", "no-store")
		h.Set("X-Content-Type-Options", "nosniff")
		if tr.Size > 0 {
			h.Set("Content-Length", strconv.FormatInt(tr.Size, 10))
		}
		w.WriteHeader(http.StatusOK)

		_, copyErr := io.Copy(w, tr)

		finished = true
		ret, err := tr.Finish(finishCtx, copyErr)
		if err != nil {
			s.logger.Error("finishing download failed", "code", code, "error", err)
			return
		}
		if ret.Retired {
			retirementsTotal.Inc()
		}
	}
}

// handleProbe answers HEAD requests with the status a download would get,
// without transferring or counting anything.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	v, err := s.registry.Probe(r.Context(), code, r.URL.Query().Get("password"))
	if err != nil {
		s.logger.Error("probing share failed", "code", code, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	accessVerdictsTotal.WithLabelValues(v.Reason.String()).Inc()
	if v.Allowed() {
		w.WriteHeader(http.StatusOK)
		return
	}
	status, _ := denialStatus(v.Reason)
	w.WriteHeader(status)
}

func (s *Server) writeAccessError(w http.ResponseWriter, code string, err error) {
	reason, ok := share.ReasonOf(err)
	if !ok {
		s.logger.Error("opening share failed", "code", code, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "download failed")
		return
	}
	accessVerdictsTotal.WithLabelValues(reason.String()).Inc()

	status, errCode := denialStatus(reason)
	body := errorBody{Error: errorDetail{Code: errCode, Message: denialMessages[reason]}}
	var de *share.DenialError
	if reason == share.ReasonRequiresConfirmation && errors.As(err, &de) {
		body.Error.Warning = de.Warning
		body.Error.ConfirmURL = s.downloadURL(code) + "/confirm"
	}
	writeJSON(w, status, body)
}

// requireAdmin accepts requests carrying the configured admin token as a
// bearer credential.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.registry.Delete(r.Context(), code); err != nil {
		if errors.Is(err, share.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, denialMessages[share.ReasonNotFound])
			return
		}
		s.logger.Error("deleting share failed", "code", code, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
