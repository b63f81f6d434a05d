// Package vfolder implements the virtual-folder engine (§4.8): a
// VeeFolder derives its contents from a StoreSearch-like expression
// evaluated over a user-managed set of source folders, which may
// themselves be VeeFolders (nesting).
package vfolder

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/camelmail/camelstore/framework/log"
	"github.com/camelmail/camelstore/search"
	"github.com/camelmail/camelstore/store"
	"github.com/camelmail/camelstore/summary"
)

// AddFlags controls whether add_folder/remove_folder/set_expression
// schedule an automatic rebuild (§4.8.1).
type AddFlags int

const (
	AddFlagsNone        AddFlags = 0
	AddFlagsSkipRebuild AddFlags = 1 << 0
)

// Source is one member of a VeeFolder's source set: either a real folder
// (identified by its Summary, which emits that folder's `changed` signal)
// or a nested VeeFolder.
type Source struct {
	Folder  *summary.Summary
	VFolder *VeeFolder
}

func (s Source) key() string {
	if s.VFolder != nil {
		return "vf:" + s.VFolder.name
	}
	return "f:" + s.Folder.Folder()
}

func (s Source) name() string {
	if s.VFolder != nil {
		return s.VFolder.name
	}
	return s.Folder.Folder()
}

// vEntry is a vFolder summary entry: the thin (source_folder, source_uid)
// indirection of §4.8.
type vEntry struct {
	folder string
	uid    string
}

// FolderOpsLookup supplies the header/body fallback-scan callbacks for a
// real source folder, by name (§4.6's Folder.search adapter, reused here
// for the match-threads real-folder rescan path).
type FolderOpsLookup func(folderName string) search.FolderOps

// VeeFolder is a derived Folder whose contents are the live result of an
// expression evaluated over its sources (§4.8).
type VeeFolder struct {
	st        *store.Store
	name      string
	folderOps FolderOpsLookup
	log       log.Logger

	mu         sync.Mutex
	sources    []Source
	expr       string
	compiled   *search.Compiled
	autoUpdate bool
	ready      bool

	vsummary map[string]vEntry // vuid -> real (folder, uid)
	reverse  map[string]string // folder+"\x00"+uid -> vuid

	changeMu sync.Mutex
	pending  *changeSet

	listenersMu sync.Mutex
	listeners   []func(ChangeInfo)

	rebuildMu    sync.Mutex
	rerunPending bool
	sf           singleflight.Group
}

// New creates an empty VeeFolder bound to st, named name (its own
// identity when used as a nested source; vUID prefixes come from the
// store id and each source folder's name, not from this name). folderOps
// resolves header/body fallback scans for a real source folder by name;
// pass nil to always use search.DefaultFolderOps.
func New(st *store.Store, name string, folderOps FolderOpsLookup) *VeeFolder {
	return &VeeFolder{
		st:         st,
		name:       name,
		folderOps:  folderOps,
		autoUpdate: true,
		vsummary:   make(map[string]vEntry),
		reverse:    make(map[string]string),
		pending:    newChangeSet(),
	}
}

// Name returns the vFolder's own identity, used as the "folder name" of
// an outer vFolder that nests this one as a source.
func (v *VeeFolder) Name() string { return v.name }

// SetLogger attaches a logger used to report rebuild progress and
// failures. The zero value falls back to log.DefaultLogger, so a
// VeeFolder left unconfigured still logs somewhere.
func (v *VeeFolder) SetLogger(l log.Logger) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.log = l
}

func (v *VeeFolder) folderOpsFor(folderName string) search.FolderOps {
	if v.folderOps != nil {
		return v.folderOps(folderName)
	}
	return search.DefaultFolderOps(v.st, folderName)
}

// SetAutoUpdate toggles whether source changes trigger automatic rebuilds
// (§4.8: "an auto_update flag (default on)").
func (v *VeeFolder) SetAutoUpdate(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.autoUpdate = on
}

// SetExpression parses and compiles expr, invalidating readiness unless
// SkipRebuild is set (§4.8.1).
func (v *VeeFolder) SetExpression(ctx context.Context, expr string, flags AddFlags) error {
	node, err := search.Parse(expr)
	if err != nil {
		return err
	}
	compiled, err := search.Compile(node)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.expr = expr
	v.compiled = compiled
	v.ready = false
	v.mu.Unlock()

	if flags&AddFlagsSkipRebuild != 0 {
		return nil
	}
	return v.RefreshInfoSync(ctx)
}

// AddFolder registers src as a source. A duplicate (by key) is ignored
// (§4.8.1: "an insertion that duplicates is ignored").
func (v *VeeFolder) AddFolder(ctx context.Context, src Source, flags AddFlags) error {
	v.mu.Lock()
	for _, existing := range v.sources {
		if existing.key() == src.key() {
			v.mu.Unlock()
			return nil
		}
	}
	v.sources = append(v.sources, src)
	v.ready = false
	v.mu.Unlock()

	key := src.key()
	if src.VFolder != nil {
		src.VFolder.OnChanged(func(ci ChangeInfo) {
			v.handleVFolderSourceChange(ctx, key, src.VFolder, ci)
		})
	} else {
		src.Folder.OnChanged(func(ci summary.ChangeInfo) {
			v.handleFolderSourceChange(ctx, key, src.Folder, ci)
		})
	}

	if flags&AddFlagsSkipRebuild != 0 {
		return nil
	}
	return v.RefreshInfoSync(ctx)
}

// RemoveFolder drops src from the source set. Because neither Summary
// nor VeeFolder supports unsubscribing a listener, the stale closure
// registered by AddFolder checks sourceActive before doing any work —
// a soft unsubscribe.
func (v *VeeFolder) RemoveFolder(ctx context.Context, src Source, flags AddFlags) error {
	v.mu.Lock()
	kept := v.sources[:0]
	for _, existing := range v.sources {
		if existing.key() != src.key() {
			kept = append(kept, existing)
		}
	}
	v.sources = kept
	v.ready = false
	v.mu.Unlock()

	if flags&AddFlagsSkipRebuild != 0 {
		return nil
	}
	return v.RefreshInfoSync(ctx)
}

func (v *VeeFolder) sourceActive(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.sources {
		if s.key() == key {
			return true
		}
	}
	return false
}

// realFolderNames returns every real (non-virtual) folder name reachable
// from v's sources, recursing through nested VeeFolders, deduplicated.
func (v *VeeFolder) realFolderNames() []string {
	v.mu.Lock()
	sources := append([]Source(nil), v.sources...)
	v.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	var walk func(s Source)
	walk = func(s Source) {
		if s.VFolder != nil {
			for _, inner := range s.VFolder.snapshotSources() {
				walk(inner)
			}
			return
		}
		name := s.Folder.Folder()
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, s := range sources {
		walk(s)
	}
	return names
}

func (v *VeeFolder) snapshotSources() []Source {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Source(nil), v.sources...)
}
