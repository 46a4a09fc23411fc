package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/grocery-tracker/internal/extract"
	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/resolve"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

// maxPhotoSize allows high-resolution phone photos
const maxPhotoSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes before writing the status so an unencodable value becomes a 500
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Error encoding response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps service errors onto status codes
func writeError(w http.ResponseWriter, err error) {
	var fetchErr *resolve.FetchError
	switch {
	case errors.As(err, &fetchErr):
		writeErrorMessage(w, http.StatusBadGateway, fetchErr.Message())
	case errors.Is(err, ErrValidation):
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrPurchaseNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyBasket),
		errors.Is(err, resolve.ErrNoItemsFound),
		errors.Is(err, scanning.ErrNoText):
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrBasketNotEmpty):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoRecognizer):
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

type basketResponse struct {
	BasketView
	TotalDisplay string `json:"totalDisplay"`
}

func (s *Server) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	view := s.service.BasketView()
	writeJSON(w, http.StatusOK, basketResponse{
		BasketView:   view,
		TotalDisplay: pricing.FormatBRL(view.Total),
	})
}

func (s *Server) handleClearBasket(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearBasket(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var in ItemInput
	if !decodeBody(w, r, &in) {
		return
	}

	item, err := s.service.AddItem(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var in ItemInput
	if !decodeBody(w, r, &in) {
		return
	}

	item, err := s.service.UpdateItem(r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleAdjustQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := s.service.AdjustQuantity(r.PathValue("id"), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveItem(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	purchase, err := s.service.Commit()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.PendingCandidates())
}

// handleAcceptCandidates accepts explicit candidates, or pending ones by index
func (s *Server) handleAcceptCandidates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []extract.Candidate `json:"candidates"`
		Indexes    []int               `json:"indexes"`
		Category   string              `json:"category"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		accepted []LineItem
		skipped  int
		err      error
	)
	if len(req.Candidates) > 0 {
		accepted, skipped, err = s.service.AcceptCandidates(req.Candidates, req.Category)
	} else {
		accepted, skipped, err = s.service.AcceptPending(req.Indexes, req.Category)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"accepted": accepted,
		"skipped":  skipped,
	})
}

func (s *Server) handleDiscardCandidates(w http.ResponseWriter, r *http.Request) {
	s.service.DiscardPending()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Purchases())
}

// handleGetPurchase returns a purchase with its category breakdown
func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := s.service.GetPurchase(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"purchase": purchase,
		"groups":   GroupByCategory(purchase.Items),
	}
	if top, ok := DominantCategory(purchase.Items); ok {
		response["dominant"] = top
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePurchase(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditPurchase(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.EditPurchase(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.History())
}

func (s *Server) handleImportURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	candidates, err := s.service.ImportURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleImportText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string         `json:"text"`
		Source extract.Source `json:"source"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Source {
	case "":
		req.Source = extract.SourceHTML
	case extract.SourceHTML, extract.SourceOCR:
	default:
		writeErrorMessage(w, http.StatusBadRequest, "source must be html or ocr")
		return
	}

	writeJSON(w, http.StatusOK, s.service.ImportText(req.Text, req.Source))
}

// handleImportPhoto recognizes an uploaded receipt photo
func (s *Server) handleImportPhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeErrorMessage(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "No file was selected. Please choose a photo to upload.")
		return
	}
	defer f.Close()

	if header.Size > maxPhotoSize {
		writeErrorMessage(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeErrorMessage(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromName(header.Filename)
	}

	candidates, err := s.service.ImportPhoto(r.Context(), data, strings.ToLower(strings.TrimSpace(contentType)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func contentTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
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
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Categories)
}

// handleSuggest proposes a pricing mode for a product name
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	mode, grams := SuggestPricingMode(r.URL.Query().Get("name"), r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, map[string]any{
		"pricingMode": mode,
		"weightGrams": grams,
	})
}
