package directory

import (
	"context"

	"golang.org/x/sync/errgroup"

	"turbo-gateway/internal/backend"
	"turbo-gateway/internal/models"
	"turbo-gateway/internal/translator"
)

const ownerRemote = "remote-turbo"

// Directory aggregates the models available from both backends and
// classifies model names as local- or remote-routed. It holds no per-request
// state and is shared process-wide.
type Directory struct {
	client    *backend.Client
	allowlist map[string]struct{}
	ordered   []string
}

// New constructs a Directory over the given client and remote allowlist.
func New(client *backend.Client, remoteModels []string) *Directory {
	allow := make(map[string]struct{}, len(remoteModels))
	ordered := make([]string, 0, len(remoteModels))
	for _, name := range remoteModels {
		if _, seen := allow[name]; seen {
			continue
		}
		allow[name] = struct{}{}
		ordered = append(ordered, name)
	}
	return &Directory{
		client:    client,
		allowlist: allow,
		ordered:   ordered,
	}
}

// IsRemoteRouted reports whether the model name must be routed to the remote
// backend. The allowlist is configuration, not a fixed pair.
func (d *Directory) IsRemoteRouted(name string) bool {
	_, ok := d.allowlist[name]
	return ok
}

// ListUnified fetches both backend model lists, filters the remote list to
// the configured allowlist, and merges local-first with first-occurrence
// dedup by name. A failure fetching one source degrades the result to the
// other source's data; the client logs the failure and returns empty.
func (d *Directory) ListUnified(ctx context.Context) []models.BackendModel {
	var local, remote []models.BackendModel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		local = d.client.Models(gctx, models.SourceLocal)
		return nil
	})
	g.Go(func() error {
		remote = d.client.Models(gctx, models.SourceRemote)
		return nil
	})
	_ = g.Wait()

	merged := make([]models.BackendModel, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(local)+len(remote))

	// Local first: a same-named remote model is shadowed by the local one.
	for _, m := range local {
		if _, dup := seen[m.Name]; dup {
			continue
		}
		seen[m.Name] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range remote {
		if !d.IsRemoteRouted(m.Name) {
			continue
		}
		if _, dup := seen[m.Name]; dup {
			continue
		}
		seen[m.Name] = struct{}{}
		merged = append(merged, m)
	}
	return merged
}

// PublicListing maps the unified model set into the public model records.
func (d *Directory) PublicListing(ctx context.Context) translator.ModelList {
	unified := d.ListUnified(ctx)
	records := make([]translator.ModelRecord, 0, len(unified))
	for _, m := range unified {
		owner := "local"
		if m.Source == models.SourceRemote {
			owner = ownerRemote
		}
		records = append(records, translator.ModelRecord{
			ID:      m.Name,
			Object:  "model",
			Created: m.ModifiedAt.Unix(),
			OwnedBy: owner,
		})
	}
	return translator.ModelList{Object: "list", Data: records}
}

// Running reports the currently loaded models. The remote runtime exposes no
// running-models introspection, so the union covers local only; entries are
// tagged with their source so a remote extension stays symmetric.
func (d *Directory) Running(ctx context.Context) []models.RunningModel {
	return d.client.Running(ctx)
}

// Knows reports whether a model name is routable: either allowlisted for the
// remote backend or present in the local listing. When the local listing is
// unavailable the check degrades to true so a down backend cannot block
// requests that might still succeed.
func (d *Directory) Knows(ctx context.Context, name string) bool {
	if d.IsRemoteRouted(name) {
		return true
	}
	local := d.client.Models(ctx, models.SourceLocal)
	if len(local) == 0 {
		return true
	}
	for _, m := range local {
		if m.Name == name {
			return true
		}
	}
	return false
}

// RemoteModels returns the configured allowlist in declaration order.
func (d *Directory) RemoteModels() []string {
	out := make([]string, len(d.ordered))
	copy(out, d.ordered)
	return out
}
