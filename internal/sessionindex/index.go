// Package sessionindex implements the Session Index (§4.4): a process-wide
// cache over internal/transcript, keyed by session id, invalidated purely by
// file mtime/size drift and by file disappearance.
package sessionindex

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/internal/model"
)

// Reader is the subset of internal/transcript.Reader the index depends on,
// kept narrow so tests can fake it.
type Reader interface {
	ListSessions(projectID, projectPath string, family model.AgentFamily) ([]model.Session, error)
	GetSessionSummaryIfChanged(id, projectID, projectPath string, family model.AgentFamily, cachedMtime time.Time, cachedSize int64) (*model.Session, error)
}

type cacheKey struct {
	projectID string
	sessionID string
}

type cacheEntry struct {
	summary model.Session
	mtime   time.Time
	size    int64
	seen    bool // not used: ListSessions tracks presence per scan in a local set
}

// Index caches per-session summaries, recomputing only when the backing
// transcript file's mtime or size has drifted since the last scan.
type Index struct {
	reader Reader
	log    zerolog.Logger

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry

	watcher *fsnotify.Watcher // optional; nil when file-watching isn't wired in
}

// New builds an Index over reader. log may be zerolog.Nop().
func New(reader Reader, log zerolog.Logger) *Index {
	return &Index{
		reader:  reader,
		log:     log.With().Str("component", "sessionindex").Logger(),
		entries: make(map[cacheKey]*cacheEntry),
	}
}

// Watch attaches an fsnotify watcher over dir. Observed writes, creates and
// removes are only logged at debug level; they do not invalidate cached
// entries (GetSessionSummary revalidates by mtime/size, and ListSessions
// always rereads through the reader).
func (ix *Index) Watch(dir string) error {
	if ix.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return model.WrapError(model.ErrTransient, "create fsnotify watcher", err)
		}
		ix.watcher = w
		go ix.watchLoop()
	}
	if err := ix.watcher.Add(dir); err != nil {
		return model.WrapError(model.ErrTransient, "watch transcript dir "+dir, err)
	}
	return nil
}

func (ix *Index) watchLoop() {
	for {
		select {
		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
				ix.log.Debug().Str("path", ev.Name).Msg("transcript change observed")
			}
		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			ix.log.Warn().Err(err).Msg("fsnotify watch error")
		}
	}
}

// Close releases the fsnotify watcher, if one was attached.
func (ix *Index) Close() error {
	if ix.watcher == nil {
		return nil
	}
	return ix.watcher.Close()
}

// ListSessions returns every session the reader currently reports for
// projectID/family (never served from the cache), refreshes the cached
// summaries from that result, and evicts entries whose file disappeared
// since the previous scan (strictly file-driven eviction,
// §4.4 — never time-based).
func (ix *Index) ListSessions(projectID, projectPath string, family model.AgentFamily) ([]model.Session, error) {
	fresh, err := ix.reader.ListSessions(projectID, projectPath, family)
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	seen := make(map[cacheKey]bool, len(fresh))
	out := make([]model.Session, 0, len(fresh))
	for _, s := range fresh {
		key := cacheKey{projectID: projectID, sessionID: s.ID}
		seen[key] = true
		out = append(out, s)
		entry, ok := ix.entries[key]
		if !ok {
			ix.entries[key] = &cacheEntry{summary: s, mtime: s.UpdatedAt}
			continue
		}
		entry.summary = s
		entry.mtime = s.UpdatedAt
	}

	// Strictly file-driven eviction: anything not present in this scan's
	// ListSessions result is gone.
	for key := range ix.entries {
		if key.projectID == projectID && !seen[key] {
			delete(ix.entries, key)
		}
	}

	return out, nil
}

// GetSessionSummary returns the cached summary when the file's (mtime, size)
// match what was cached, otherwise recomputes via the reader and updates the
// cache.
func (ix *Index) GetSessionSummary(id, projectID, projectPath string, family model.AgentFamily, mtime time.Time, size int64) (*model.Session, error) {
	key := cacheKey{projectID: projectID, sessionID: id}

	ix.mu.Lock()
	entry, ok := ix.entries[key]
	ix.mu.Unlock()

	if ok && entry.mtime.Equal(mtime) && entry.size == size {
		cached := entry.summary
		return &cached, nil
	}

	fresh, err := ix.reader.GetSessionSummaryIfChanged(id, projectID, projectPath, family, mtime, size)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		// The reader agrees the file matches (mtime, size); our cache was
		// merely missing or keyed to a different baseline, so serve what we
		// have instead of forcing a recompute.
		if ok {
			cached := entry.summary
			return &cached, nil
		}
		return nil, model.NewError(model.ErrNotFound, "session not found: "+id)
	}

	ix.mu.Lock()
	ix.entries[key] = &cacheEntry{summary: *fresh, mtime: mtime, size: size}
	ix.mu.Unlock()

	return fresh, nil
}

// Invalidate drops a single cached entry, e.g. when the Process knows a
// session's transcript just changed and wants the next read to be fresh.
func (ix *Index) Invalidate(projectID, sessionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, cacheKey{projectID: projectID, sessionID: sessionID})
}
