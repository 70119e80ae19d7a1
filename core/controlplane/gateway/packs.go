package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/infra/schema"
	"github.com/cordum/cordum-packs/core/infra/store"
	"github.com/cordum/cordum-packs/core/packs"
)

type packListRequest struct {
	Packs json.RawMessage `json:"packs"`
}

type registerRequest struct {
	Types []string `json:"types"`
}

type registerResponse struct {
	Results map[packs.ContentKind]packs.RegistrationResult `json:"results"`
	Error   string                                         `json:"error,omitempty"`
}

func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.catalog.ListPacks(r.Context(), store.PackFilter{
		Name: strings.TrimSpace(q.Get("name")),
		Ref:  strings.TrimSpace(q.Get("ref")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetPack(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("ref_or_id")
	logging.Info("packs-api", "get pack", "ref_or_id", token)
	p, err := s.resolver.Resolve(r.Context(), token)
	if errors.Is(err, packs.ErrNotFound) {
		http.Error(w, fmt.Sprintf("Unable to identify resource with ref_or_id %q.", token), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	names, err := decodePackList(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	handle, err := s.dispatcher.DispatchInstall(r.Context(), names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	names, err := packNamesFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	handle, err := s.dispatcher.DispatchUninstall(r.Context(), names)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kinds, err := packs.ParseKinds(req.Types)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, err := s.registrar.RegisterAll(r.Context(), kinds)
	if err != nil {
		logging.Error("packs-api", "register aborted", "error", err)
		writeJSON(w, http.StatusInternalServerError, registerResponse{Results: results, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Results: results})
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	names, err := packNamesFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	principal := ""
	if auth := authFromRequest(r); auth != nil {
		principal = auth.PrincipalID
	}
	logging.Info("packs-api", "deregister requested", "packs", strings.Join(names, ","), "principal", principal)
	report, err := s.deregistrar.Deregister(r.Context(), names)
	if err != nil {
		var primary *packs.PrimaryDeleteError
		if errors.As(err, &primary) || errors.Is(err, packs.ErrPackLocked) {
			writeJSON(w, statusFor(err), map[string]any{"report": report, "error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("ref_or_id")
	p, err := s.resolver.Resolve(r.Context(), token)
	if errors.Is(err, packs.ErrNotFound) {
		http.Error(w, fmt.Sprintf("Unable to identify resource with ref_or_id %q.", token), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	values := map[string]any{}
	if err := decodeOptionalBody(r, &values); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.configs.ValidateConfig(r.Context(), p.Name, values); err != nil {
		if errors.Is(err, schema.ErrInvalidConfig) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"valid": false, "error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleListConfigSchemas(w http.ResponseWriter, r *http.Request) {
	names, err := s.configs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": names})
}

// packNamesFromRequest prefers the path token over the body list.
func packNamesFromRequest(r *http.Request) ([]string, error) {
	if token := strings.TrimSpace(r.PathValue("ref_or_id")); token != "" {
		return []string{token}, nil
	}
	return decodePackList(r)
}

// decodePackList requires a body whose "packs" field is a list of strings.
func decodePackList(r *http.Request) ([]string, error) {
	var req packListRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.Packs) == 0 {
		return nil, errors.New(`"packs" must be a list of pack names`)
	}
	var raw []any
	if err := json.Unmarshal(req.Packs, &raw); err != nil || raw == nil {
		return nil, errors.New(`"packs" must be a list of pack names`)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, errors.New(`"packs" must be a list of pack names`)
		}
		out = append(out, name)
	}
	return out, nil
}

func decodeOptionalBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, packs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, packs.ErrInvalidOperation), errors.Is(err, packs.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, packs.ErrPackLocked):
		return http.StatusConflict
	case errors.Is(err, schema.ErrInvalidConfig):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error("packs-api", "request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}
