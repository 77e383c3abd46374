package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/bill"
	"github.com/zombor/splitit/internal/money"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/session"
	"github.com/zombor/splitit/internal/share"
	"github.com/zombor/splitit/internal/split"
	"github.com/zombor/splitit/internal/storage"
)

// billResponse is the common response for analysis and bill edits
type billResponse struct {
	session.Snapshot
	Mode    string `json:"mode,omitempty"`
	Display string `json:"display,omitempty"`
}

func newBillResponse(snap session.Snapshot) billResponse {
	resp := billResponse{Snapshot: snap}
	if snap.Outcome != nil {
		resp.Mode = snap.Outcome.Mode().String()
	}
	if snap.PerPerson != nil {
		resp.Display = money.Format(*snap.PerPerson)
	}
	return resp
}

// handleCreateSession signs in a new anonymous user
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tokens.SignInAnonymously(r.Context())
	if err != nil {
		if !errors.Is(err, auth.ErrAuth) {
			err = fmt.Errorf("%w: %w", auth.ErrAuth, err)
		}
		writeError(w, err)
		return
	}
	s.metrics.sessions.Inc()
	writeJSON(w, http.StatusCreated, sess)
}

type analyzeRequest struct {
	ImageURI  string `json:"imageUri"`
	Mode      string `json:"mode"`
	NumPeople int    `json:"numPeople"`
}

// handleAnalyze accepts either a JSON body referencing an image or a
// multipart upload of the image itself.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var (
		req analyzeRequest
		err error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var cleanup func()
		req, cleanup, err = s.readUpload(w, r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		defer cleanup()
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	mode, err := scanning.ParseMode(req.Mode)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.NumPeople < 0 {
		badRequest(w, "numPeople must be at least 1")
		return
	}

	ctrl := s.controllerFor(auth.FromContext(r.Context()))
	start := time.Now()
	_, err = ctrl.Analyze(r.Context(), session.Request{
		ImageURI:  req.ImageURI,
		Mode:      mode,
		NumPeople: req.NumPeople,
	})
	s.metrics.observeAnalysis(mode.String(), start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newBillResponse(ctrl.Snapshot()))
}

// readUpload stores the uploaded file and returns a request referencing it.
// The returned cleanup removes the stored file. Inline uploads are passed on
// as data URIs instead.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (analyzeRequest, func(), error) {
	noop := func() {}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return analyzeRequest{}, noop, fmt.Errorf("file is too large, maximum size is %d MB", s.config.MaxUploadBytes>>20)
		}
		return analyzeRequest{}, noop, errors.New("error parsing form")
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		return analyzeRequest{}, noop, errors.New("no file was selected, please choose a photo of the bill")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return analyzeRequest{}, noop, fmt.Errorf("reading upload: %w", err)
	}

	req := analyzeRequest{Mode: r.FormValue("mode")}
	if n := strings.TrimSpace(r.FormValue("num_people")); n != "" {
		req.NumPeople, err = strconv.Atoi(n)
		if err != nil {
			return analyzeRequest{}, noop, fmt.Errorf("invalid num_people %q", n)
		}
	}

	if s.config.InlineUploads || s.uploads == nil {
		contentType := header.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = scanning.ContentTypeFromName(header.Filename)
		}
		req.ImageURI = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
		return req, noop, nil
	}

	key := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), storage.SanitizeFilename(header.Filename))
	key, err = s.uploads.Save(key, data)
	if err != nil {
		slog.Error("Error saving upload", "filename", header.Filename, "error", err)
		return analyzeRequest{}, noop, errors.New("could not store the upload")
	}
	req.ImageURI = key

	cleanup := func() {
		if err := s.uploads.Delete(key); err != nil {
			slog.Warn("Error removing upload", "key", key, "error", err)
		}
	}
	return req, cleanup, nil
}

// handleReset discards the current outcome and bill
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(auth.FromContext(r.Context()))
	ctrl.Reset()
	writeJSON(w, http.StatusOK, newBillResponse(ctrl.Snapshot()))
}

// handleGetBill returns the bill being edited
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(auth.FromContext(r.Context()))
	if _, ok := ctrl.Bill(); !ok {
		writeError(w, session.ErrNoBill)
		return
	}
	writeJSON(w, http.StatusOK, newBillResponse(ctrl.Snapshot()))
}

type startBillRequest struct {
	Items []struct {
		Name     string `json:"name"`
		Price    string `json:"price"`
		Quantity string `json:"quantity"`
	} `json:"items"`
}

// handleStartBill begins a manually entered bill
func (s *Server) handleStartBill(w http.ResponseWriter, r *http.Request) {
	var req startBillRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "Invalid request body")
			return
		}
	}

	items := make([]bill.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, bill.Item{
			Name:     it.Name,
			Price:    money.ParseAmount(it.Price),
			Quantity: money.ParseQuantity(it.Quantity),
		})
	}

	ctrl := s.controllerFor(auth.FromContext(r.Context()))
	ctrl.StartBill(bill.New(items))
	writeJSON(w, http.StatusCreated, newBillResponse(ctrl.Snapshot()))
}

// editBill runs one bill edit and writes the updated bill
func (s *Server) editBill(w http.ResponseWriter, r *http.Request, op func(*session.Controller) (bill.Bill, error)) {
	ctrl := s.controllerFor(auth.FromContext(r.Context()))
	if _, err := op(ctrl); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBillResponse(ctrl.Snapshot()))
}

func pathIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return 0, fmt.Errorf("invalid item index %q", r.PathValue("index"))
	}
	return index, nil
}

// handleAddItem appends a blank item
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	s.editBill(w, r, (*session.Controller).AddItem)
}

type updateItemRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// handleUpdateItem changes one field of one item
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	s.editBill(w, r, func(c *session.Controller) (bill.Bill, error) {
		return c.UpdateItem(index, bill.Field(req.Field), req.Value)
	})
}

// handleRemoveItem deletes one item
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	s.editBill(w, r, func(c *session.Controller) (bill.Bill, error) {
		return c.RemoveItem(index)
	})
}

type totalRequest struct {
	Value string `json:"value"`
}

// handleSetTotal overrides the bill total
func (s *Server) handleSetTotal(w http.ResponseWriter, r *http.Request) {
	var req totalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	s.editBill(w, r, func(c *session.Controller) (bill.Bill, error) {
		return c.SetTotalOverride(req.Value)
	})
}

// handleResetTotal returns the total to the sum of the items
func (s *Server) handleResetTotal(w http.ResponseWriter, r *http.Request) {
	s.editBill(w, r, (*session.Controller).ResetTotal)
}

// handlePeople increments or decrements the split count
func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(auth.FromContext(r.Context()))
	switch r.PathValue("op") {
	case "increment":
		ctrl.IncrementPeople()
	case "decrement":
		ctrl.DecrementPeople()
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown operation"})
		return
	}
	writeJSON(w, http.StatusOK, newBillResponse(ctrl.Snapshot()))
}

type splitRequest struct {
	Total     string `json:"total"`
	NumPeople int    `json:"numPeople"`
}

type splitResponse struct {
	PerPerson decimal.Decimal `json:"per_person"`
	Display   string          `json:"display"`
}

// handleSplit divides a total evenly
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if req.NumPeople < 1 {
		badRequest(w, "numPeople must be at least 1")
		return
	}

	perPerson := split.Split(money.ParseAmount(req.Total), req.NumPeople)
	writeJSON(w, http.StatusOK, splitResponse{
		PerPerson: perPerson,
		Display:   money.Format(perPerson),
	})
}

type shareResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Link string `json:"link"`
}

// handleShareBill persists the current bill and returns its link
func (s *Server) handleShareBill(w http.ResponseWriter, r *http.Request) {
	sess := auth.FromContext(r.Context())
	ctrl := s.controllerFor(sess)
	b, ok := ctrl.Bill()
	if !ok {
		writeError(w, session.ErrNoBill)
		return
	}

	record, err := s.shares.Share(r.Context(), sess, b)
	s.metrics.observeShare(err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, shareResponse{
		ID:   record.ID,
		Code: record.Code,
		Link: share.Link(s.config.PublicOrigin, record.ID, record.Code),
	})
}

// handleGetSharedBill returns a shared bill when the access code matches
func (s *Server) handleGetSharedBill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access code required"})
		return
	}

	record, err := s.shares.Lookup(r.Context(), id, code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
