// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hylla/perangkat/internal/adapters/server/common"
	"github.com/hylla/perangkat/internal/importfile"
)

// maxRequestBodyBytes caps every request body; larger payloads fail as invalid.
const maxRequestBodyBytes int64 = 8 << 20

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Handler serves the versioned API subrouter. It expects its mount prefix already stripped.
type Handler struct {
	service common.PersonnelService
	routes  map[string]route
}

type route struct {
	method string
	serve  func(*http.Request) (any, error)
}

// NewHandler builds the route table over service.
func NewHandler(service common.PersonnelService) *Handler {
	h := &Handler{service: service}
	h.routes = map[string]route{
		"scan":      {http.MethodPost, h.scan},
		"positions": {http.MethodGet, h.positions},
		"history":   {http.MethodGet, h.history},
		"imports":   {http.MethodPost, h.importRows},
		"slots":     {http.MethodGet, h.slot},
	}
	return h
}

// ServeHTTP dispatches on the trimmed path. `history/{id}/restore` is the only parameterized route.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "personnel service is not configured",
		})
		return
	}
	path := strings.Trim(strings.TrimSpace(r.URL.Path), "/")
	rt, ok := h.routes[path]
	if !ok {
		id, isRestore := restoreTarget(path)
		if !isRestore {
			writeError(w, http.StatusNotFound, APIError{Code: "not_found", Message: "endpoint not found"})
			return
		}
		rt = route{http.MethodPost, func(r *http.Request) (any, error) {
			return h.service.RestorePosition(r.Context(), common.RestoreRequest{ID: id})
		}}
	}
	if r.Method != rt.method {
		w.Header().Set("Allow", rt.method)
		writeError(w, http.StatusMethodNotAllowed, APIError{Code: "method_not_allowed", Message: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer r.Body.Close()
	payload, err := rt.serve(r)
	if err == nil {
		err = r.Context().Err()
	}
	if err != nil {
		status, apiErr := classify(err)
		writeError(w, status, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) scan(r *http.Request) (any, error) {
	var req common.ScanRequest
	if err := decodeBody(r.Body, &req, false); err != nil {
		return nil, err
	}
	force, err := queryBool(r.URL.Query(), "force")
	if err != nil {
		return nil, err
	}
	req.Force = req.Force || force
	return h.service.RunScan(r.Context(), req)
}

func (h *Handler) positions(r *http.Request) (any, error) {
	positions, err := h.service.ListPositions(r.Context(), common.ListPositionsRequest{
		Village: queryString(r.URL.Query(), "village"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"positions": positions}, nil
}

func (h *Handler) history(r *http.Request) (any, error) {
	q := r.URL.Query()
	limit, err := queryInt(q, "limit")
	if err != nil {
		return nil, err
	}
	records, err := h.service.ListHistory(r.Context(), common.ListHistoryRequest{
		Village: queryString(q, "village"),
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"history": records}, nil
}

// importRows accepts a JSON ImportRequest, or a CSV/YAML file body selected by
// `?format=` or Content-Type. Query actor and village_scope override the body.
func (h *Handler) importRows(r *http.Request) (any, error) {
	q := r.URL.Query()
	format, err := importFormat(q.Get("format"), r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	var req common.ImportRequest
	if format == importfile.FormatJSON && queryString(q, "format") == "" {
		if err := decodeBody(r.Body, &req, true); err != nil {
			return nil, err
		}
	} else {
		records, err := importfile.DecodeRecords(r.Body, format, importfile.Options{DefaultVillage: queryString(q, "village")})
		if err != nil {
			return nil, invalid("decode import body", err)
		}
		req.Rows = make([]common.ImportRow, len(records))
		for i, rec := range records {
			req.Rows[i] = common.ImportRow{
				Line:    rec.Line,
				Village: rec.Village,
				Title:   rec.Title,
				Occupant: common.Occupant{
					FullName:         rec.FullName,
					NationalID:       rec.NationalID,
					BirthDate:        rec.BirthDate,
					DecreeNumber:     rec.DecreeNumber,
					DecreeDate:       rec.DecreeDate,
					InaugurationDate: rec.InaugurationDate,
					TenureEndDate:    rec.TenureEndDate,
				},
			}
		}
	}
	if actor := queryString(q, "actor"); actor != "" {
		req.Actor = actor
	}
	if scope := queryString(q, "village_scope"); scope != "" {
		req.VillageScope = scope
	}
	return h.service.ReconcileImport(r.Context(), req)
}

func (h *Handler) slot(r *http.Request) (any, error) {
	q := r.URL.Query()
	return h.service.FindReusableSlot(r.Context(), common.SlotRequest{
		Village: queryString(q, "village"),
		Title:   queryString(q, "title"),
	})
}

// restoreTarget extracts {id} from `history/{id}/restore`.
func restoreTarget(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "history/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/restore")
	id = strings.TrimSpace(id)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

var mediaFormats = map[string]importfile.Format{
	"application/json":   importfile.FormatJSON,
	"text/csv":           importfile.FormatCSV,
	"application/csv":    importfile.FormatCSV,
	"application/yaml":   importfile.FormatYAML,
	"application/x-yaml": importfile.FormatYAML,
	"text/yaml":          importfile.FormatYAML,
}

// importFormat prefers an explicit format name and falls back to the media type. No media type means JSON.
func importFormat(name, contentType string) (importfile.Format, error) {
	if name = strings.TrimSpace(name); name != "" {
		format, err := importfile.ParseFormat(name)
		if err != nil {
			return "", invalid("format", err)
		}
		return format, nil
	}
	if contentType = strings.TrimSpace(contentType); contentType == "" {
		return importfile.FormatJSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", invalid("content type", err)
	}
	format, ok := mediaFormats[mediaType]
	if !ok {
		return "", invalid(fmt.Sprintf("content type %q", mediaType), importfile.ErrUnsupportedFormat)
	}
	return format, nil
}

func queryString(q url.Values, key string) string {
	return strings.TrimSpace(q.Get(key))
}

func queryBool(q url.Values, key string) (bool, error) {
	raw := queryString(q, key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid(key, err)
	}
	return v, nil
}

func queryInt(q url.Values, key string) (int, error) {
	raw := queryString(q, key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(key, err)
	}
	return v, nil
}

// decodeBody strictly decodes one JSON value. An empty body is accepted unless required.
func decodeBody(body io.Reader, out any, required bool) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return nil
		}
		return invalid("decode request body", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	return nil
}

func invalid(what string, err error) error {
	return fmt.Errorf("%s: %w", what, errors.Join(common.ErrInvalidRequest, err))
}

// errorClasses is checked in order; the first sentinel match decides the response.
var errorClasses = []struct {
	target error
	status int
	code   string
	hint   string
}{
	{common.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{common.ErrConflict, http.StatusConflict, "conflict", "Reload the record and retry with its current state."},
	{common.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{common.ErrUnavailable, http.StatusServiceUnavailable, "service_unavailable", ""},
}

func classify(err error) (int, APIError) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, APIError{Code: c.code, Message: err.Error(), Hint: c.hint}
		}
	}
	return http.StatusInternalServerError, APIError{Code: "internal_error", Message: err.Error()}
}

func writeError(w http.ResponseWriter, status int, apiErr APIError) {
	writeJSON(w, status, ErrorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorEnvelope{Error: APIError{Code: "encode_error", Message: err.Error()}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
