package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-scan/internal/scanning"
	"github.com/zombor/receipt-scan/internal/suggest"
)

// maxUploadSize handles high-resolution phone photos
const maxUploadSize = int64(50 << 20)

func scopeOf(r *http.Request) string {
	if scope := strings.TrimSpace(r.Header.Get(ScopeHeader)); scope != "" {
		return scope
	}
	return DefaultScope
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string, kind string) {
	body := map[string]string{"error": message}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch scanning.KindOf(err) {
	case scanning.KindRateLimited:
		return http.StatusTooManyRequests
	case scanning.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case scanning.KindMalformedResponse:
		return http.StatusUnprocessableEntity
	case scanning.KindConfiguration:
		return http.StatusServiceUnavailable
	case scanning.KindProvider:
		return http.StatusBadGateway
	case scanning.KindUnsupportedImage:
		return http.StatusUnsupportedMediaType
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scanning.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

// writeError logs server-side failures and writes a JSON error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("http.error", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "Internal server error"
	}
	writeJSONError(w, status, message, string(scanning.KindOf(err)))
}

// contentTypeFor fills in a missing or generic upload content type from
// the extension, then from the bytes.
func contentTypeFor(declared, filename string, data []byte) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return http.DetectContentType(data)
}

// handleScanReceipt scans an uploaded receipt into a draft
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB. Please compress or resize your image.", "")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Error parsing form", "")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.", "")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.log.Error("http.upload.read_error", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file. Please try again.", "")
		return
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename, data)
	draft, err := s.service.ScanReceipt(r.Context(), scopeOf(r), header.Filename, data, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.GetDraft(scopeOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleConfirmDraft(w http.ResponseWriter, r *http.Request) {
	var c Confirmation
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "Invalid request body", "")
			return
		}
	}
	expense, err := s.service.ConfirmDraft(r.Context(), scopeOf(r), r.PathValue("id"), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(scopeOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []*Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(scopeOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (s *Server) handleGetExpenseFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetExpenseFile(scopeOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(scopeOf(r), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(scopeOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleSaveCategory(w http.ResponseWriter, r *http.Request) {
	var c suggest.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	saved, err := s.service.SaveCategory(scopeOf(r), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Merchant  string   `json:"merchant"`
		LineItems []string `json:"line_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	suggestions, err := s.service.Suggest(r.Context(), scopeOf(r), req.Merchant, req.LineItems)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
