// Package route decides, per request, whether a native-surface call is
// forwarded to the local backend, the remote backend, or answered by the
// gateway's own aggregation logic.
package route

import (
	"encoding/json"
	"net/http"
	"strings"

	"turbo-gateway/internal/models"
)

// Action classifies what the dispatcher does with a native-surface request.
type Action int

const (
	// ActionModelRouted forwards to local or remote depending on the model
	// name parsed from the request body.
	ActionModelRouted Action = iota
	// ActionLocalAlways forwards to the local backend unconditionally; these
	// endpoints operate on the local model store by definition.
	ActionLocalAlways
	// ActionAggregate is answered by the gateway's own aggregation logic and
	// never forwarded to a single backend.
	ActionAggregate
)

type rule struct {
	method string // empty matches any method
	path   string
	action Action
}

// The explicit route table; resolved once per request. Unmatched /api paths
// fall through to ActionLocalAlways.
var table = []rule{
	{http.MethodGet, "/api/tags", ActionAggregate},
	{http.MethodGet, "/api/ps", ActionAggregate},
	{http.MethodGet, "/api/version", ActionAggregate},

	{http.MethodPost, "/api/generate", ActionModelRouted},
	{http.MethodPost, "/api/chat", ActionModelRouted},
	{http.MethodPost, "/api/embed", ActionModelRouted},
	{http.MethodPost, "/api/embeddings", ActionModelRouted},
	{http.MethodPost, "/api/show", ActionModelRouted},

	{"", "/api/pull", ActionLocalAlways},
	{"", "/api/push", ActionLocalAlways},
	{"", "/api/create", ActionLocalAlways},
	{"", "/api/delete", ActionLocalAlways},
	{"", "/api/copy", ActionLocalAlways},
	{"", "/api/blobs", ActionLocalAlways},
}

// Table resolves native-surface requests against the route table and model
// names against the remote allowlist.
type Table struct {
	isRemote func(string) bool
	fallback models.Source
}

// NewTable constructs a Table. isRemote is the allowlist membership test;
// fallback is the backend used when no model name can be parsed.
func NewTable(isRemote func(string) bool, fallback models.Source) *Table {
	return &Table{
		isRemote: isRemote,
		fallback: fallback,
	}
}

// Decide returns the action for a native-surface request. Paths outside the
// table default to local forwarding.
func (t *Table) Decide(method, path string) Action {
	for _, r := range table {
		if r.method != "" && r.method != method {
			continue
		}
		if path == r.path || strings.HasPrefix(path, r.path+"/") {
			return r.action
		}
	}
	return ActionLocalAlways
}

// Target picks the backend for a model name. An empty name falls back to the
// configured default backend.
func (t *Table) Target(model string) models.Source {
	if model == "" {
		return t.fallback
	}
	if t.isRemote(model) {
		return models.SourceRemote
	}
	return models.SourceLocal
}

// ModelFromBody extracts the model field from a request body, or "" when the
// body carries none.
func ModelFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.Model)
}
