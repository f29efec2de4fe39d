package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/state"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		Version:       s.config.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.firewall.Status(r.Context())
	if err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	resp := StatusResponse{
		Status:        st,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.events != nil {
		resp.EventsDropped = s.events.Dropped()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.firewall.Flush(r.Context()); err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if err := s.firewall.Resync(r.Context()); err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "resync queued"})
}

func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.firewall.ListSets(r.Context())
	if err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	if sets == nil {
		sets = []ipset.Set{}
	}
	respondJSON(w, http.StatusOK, sets)
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	view, err := s.firewall.GetSet(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handlePutSet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req PutSetRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	set := ipset.Set{
		Name:    name,
		Type:    ipset.Type(req.Type),
		Family:  ipset.Family(req.Family),
		MaxElem: req.MaxElem,
	}
	created, err := s.firewall.CreateSet(r.Context(), set)
	if err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, PutSetResponse{Name: name, Created: created})
}

func (s *Server) handleDeleteSet(w http.ResponseWriter, r *http.Request) {
	if err := s.firewall.DeleteSet(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req AddMembersRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Members) == 0 {
		s.writeError(w, http.StatusBadRequest, "members must not be empty")
		return
	}
	added, err := s.firewall.AddMembers(r.Context(), name, req.Members)
	if err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	if added == nil {
		added = []string{}
	}
	respondJSON(w, http.StatusOK, AddMembersResponse{Name: name, Added: added})
}

// handleRemoveMember takes the member from the path remainder, since
// hash:net members contain a slash.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	member, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || member == "" {
		s.writeError(w, http.StatusBadRequest, "invalid member")
		return
	}
	removed, err := s.firewall.RemoveMember(r.Context(), name, member)
	if err != nil {
		s.writeFirewallError(w, r, err)
		return
	}
	status := http.StatusOK
	if !removed {
		status = http.StatusNotFound
	}
	respondJSON(w, status, RemoveMemberResponse{Name: name, Member: member, Removed: removed})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeFirewallError maps domain errors onto HTTP status codes.
func (s *Server) writeFirewallError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, state.ErrSetNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, state.ErrSetExists):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ipset.ErrInvalidName),
		errors.Is(err, ipset.ErrInvalidAddress),
		errors.Is(err, ipset.ErrInvalidSet):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("firewall request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
