package api

import "github.com/mattjoyce/fwup/internal/firewall"

// PutSetRequest is the JSON body for PUT /sets/{name}. Omitted fields take
// the ipset defaults.
type PutSetRequest struct {
	Type    string `json:"type,omitempty"`
	Family  string `json:"family,omitempty"`
	MaxElem int    `json:"maxelem,omitempty"`
}

// PutSetResponse reports whether the set was newly created.
type PutSetResponse struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
}

// AddMembersRequest is the JSON body for POST /sets/{name}/members.
type AddMembersRequest struct {
	Members []string `json:"members"`
}

// AddMembersResponse lists the members that were not already present.
type AddMembersResponse struct {
	Name  string   `json:"name"`
	Added []string `json:"added"`
}

// RemoveMemberResponse is returned by DELETE /sets/{name}/members/{member}.
type RemoveMemberResponse struct {
	Name    string `json:"name"`
	Member  string `json:"member"`
	Removed bool   `json:"removed"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	firewall.Status
	UptimeSeconds int64 `json:"uptime_seconds"`
	EventsDropped int64 `json:"events_dropped"`
}
