package treesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
)

const (
	UseLocal  = "local"
	UseServer = "server"
)

var ErrInvalidResolution = errors.New("invalid resolution")

type Conflict struct {
	Title  string             `json:"title"`
	Local  document.Workspace `json:"local"`
	Server document.Workspace `json:"server"`
}

type ReconcileResult struct {
	New        []document.Workspace `json:"new"`
	Conflicts  []Conflict           `json:"conflicts"`
	ServerOnly []document.Workspace `json:"server_only"`
}

type Resolution struct {
	Title string             `json:"title"`
	Use   string             `json:"use"`
	Data  document.Workspace `json:"data"`
}

type ResolveRequest struct {
	Resolve []Resolution         `json:"resolve"`
	New     []document.Workspace `json:"new"`
}

type localVersion struct {
	doc         document.Workspace
	fingerprint string
}

type serverCopy struct {
	doc         document.Workspace
	fingerprint string
	refs        map[string]bool
}

// Reconcile compares the client's workspaces with the author's server
// workspaces by title. A title only the client has is new; a title on both
// sides whose content differs is a conflict, one per distinct local
// version; a title only the server has is server-only. Identical copies
// appear nowhere. Local copies are normalized the way Upsert would store
// them before comparing, so a document that was just synced never conflicts
// with itself. Results are ordered by title and contain no duplicates, so
// repeated calls with the same inputs return the same result.
func (e *Engine) Reconcile(ctx context.Context, authorID string, local []document.Workspace) (ReconcileResult, error) {
	items, err := e.store.ListWorkspaces(ctx, authorID)
	if err != nil {
		return ReconcileResult{}, err
	}
	serverByTitle := make(map[string]serverCopy, len(items))
	for _, ws := range items {
		doc, err := e.serializeWith(ctx, e.store, ws)
		if err != nil {
			return ReconcileResult{}, err
		}
		fp, err := document.Fingerprint(doc)
		if err != nil {
			return ReconcileResult{}, err
		}
		refs, err := e.blobRefs(ctx, e.store, ws)
		if err != nil {
			return ReconcileResult{}, err
		}
		serverByTitle[doc.Title] = serverCopy{doc: doc, fingerprint: fp, refs: refs}
	}

	localByTitle := make(map[string][]localVersion)
	for _, doc := range local {
		title := strings.TrimSpace(doc.Title)
		if title == "" {
			e.log.Warn().Msg("local workspace without title ignored")
			continue
		}
		doc.Title = title
		fp, err := document.Fingerprint(e.normalize(ctx, doc, serverByTitle[title].refs))
		if err != nil {
			return ReconcileResult{}, err
		}
		if containsFingerprint(localByTitle[title], fp) {
			continue
		}
		localByTitle[title] = append(localByTitle[title], localVersion{doc: doc, fingerprint: fp})
	}

	result := ReconcileResult{
		New:        make([]document.Workspace, 0),
		Conflicts:  make([]Conflict, 0),
		ServerOnly: make([]document.Workspace, 0),
	}
	for _, title := range sortedKeys(localByTitle) {
		versions := localByTitle[title]
		server, onServer := serverByTitle[title]
		if !onServer {
			for _, v := range versions {
				result.New = append(result.New, v.doc)
			}
			continue
		}
		for _, v := range versions {
			if v.fingerprint == server.fingerprint {
				continue
			}
			result.Conflicts = append(result.Conflicts, Conflict{Title: title, Local: v.doc, Server: server.doc})
		}
	}
	for _, title := range sortedKeys(serverByTitle) {
		if _, ok := localByTitle[title]; !ok {
			result.ServerOnly = append(result.ServerOnly, serverByTitle[title].doc)
		}
	}
	return result, nil
}

// ApplyResolution applies the client's choices and then creates every new
// workspace the author does not have yet, all in one transaction. It
// returns the author's workspaces after the change.
func (e *Engine) ApplyResolution(ctx context.Context, authorID string, req ResolveRequest) ([]document.Workspace, error) {
	for i, res := range req.Resolve {
		switch res.Use {
		case UseLocal, UseServer:
		default:
			return nil, fmt.Errorf("%w: resolve[%d].use must be %q or %q", ErrInvalidResolution, i, UseLocal, UseServer)
		}
		if strings.TrimSpace(res.Title) == "" {
			return nil, fmt.Errorf("%w: resolve[%d].title is required", ErrInvalidResolution, i)
		}
	}

	var (
		saved   []store.Workspace
		orphans []string
	)
	err := e.store.InTx(ctx, func(r Repo) error {
		for _, res := range req.Resolve {
			if res.Use != UseLocal {
				continue
			}
			data := res.Data
			data.Title = strings.TrimSpace(res.Title)
			ws, dropped, err := e.upsertWith(ctx, r, authorID, data)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", data.Title, err)
			}
			saved = append(saved, ws)
			orphans = append(orphans, dropped...)
		}

		for _, doc := range req.New {
			doc.Title = strings.TrimSpace(doc.Title)
			_, err := r.GetWorkspaceByTitle(ctx, authorID, doc.Title)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			ws, err := e.Deserialize(ctx, r, authorID, doc)
			if err != nil {
				return fmt.Errorf("create %q: %w", doc.Title, err)
			}
			saved = append(saved, ws)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.codec.DeleteBlobs(ctx, orphans)
	e.committed(ctx, saved)
	return e.SerializeAll(ctx, authorID)
}

func containsFingerprint(versions []localVersion, fp string) bool {
	for _, v := range versions {
		if v.fingerprint == fp {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
