package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/lkoehl/pairsync/internal/model"
)

// FileType is the item type the folder provider produces.
const FileType = "file"

// watchDebounce coalesces bursts of file system events into one notify call.
const watchDebounce = 500 * time.Millisecond

// Folder is a provider whose items are the regular files under a directory.
// The item UID is the path relative to the root, the payload is the file
// content, and Mtime is the file's modification time.
type Folder struct {
	name string
	root string
	log  *slog.Logger

	mu       sync.Mutex
	snapshot []*model.Item     // refresh-stable, sorted by UID
	byUID    map[string]int    // UID → snapshot index
	prevHash map[string]string // UID → content hash from the previous refresh
}

// NewFolder creates a folder provider rooted at root, creating the directory
// if it does not exist.
func NewFolder(instanceName, root string, logger *slog.Logger) (*Folder, error) {
	if root == "" {
		return nil, fmt.Errorf("folder provider %q: path option is required", instanceName)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("folder provider %q: resolving %q: %w", instanceName, root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("folder provider %q: creating %q: %w", instanceName, abs, err)
	}
	return &Folder{
		name:     instanceName,
		root:     abs,
		log:      logger,
		byUID:    make(map[string]int),
		prevHash: make(map[string]string),
	}, nil
}

// NewFolderFactory adapts NewFolder to the registry's [Factory] signature.
// Recognised options: "path" (required).
func NewFolderFactory() Factory {
	return func(instanceName string, options map[string]string, logger *slog.Logger) (Provider, error) {
		return NewFolder(instanceName, options["path"], logger)
	}
}

// UID returns the stable provider-instance identity.
func (f *Folder) UID() string {
	return "folder:" + f.name
}

// ItemType declares the type this provider accepts and produces.
func (f *Folder) ItemType() string {
	return FileType
}

// Refresh walks the root directory and rebuilds the item snapshot. Change
// kinds are diffed against the previous refresh's content hashes.
func (f *Folder) Refresh(ctx context.Context) error {
	var items []*model.Item

	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != f.root {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mtime := info.ModTime().UTC()
		items = append(items, &model.Item{
			UID:     filepath.ToSlash(rel),
			Type:    FileType,
			Title:   name,
			Payload: payload,
			Mtime:   &mtime,
		})
		return nil
	})
	if err != nil {
		return &RefreshError{Provider: f.UID(), Cause: err}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].UID < items[j].UID })

	f.mu.Lock()
	defer f.mu.Unlock()

	nextHash := make(map[string]string, len(items))
	byUID := make(map[string]int, len(items))
	for i, item := range items {
		hash := item.ContentHash()
		nextHash[item.UID] = hash
		byUID[item.UID] = i

		prev, seen := f.prevHash[item.UID]
		switch {
		case !seen:
			item.Change = model.ChangeAdded
		case prev != hash:
			item.Change = model.ChangeModified
		default:
			item.Change = model.ChangeUnmodified
		}
	}

	f.snapshot = items
	f.byUID = byUID
	f.prevHash = nextHash

	f.log.Debug("folder refreshed", "provider", f.UID(), "items", len(items))
	return nil
}

// NumItems returns the size of the current snapshot.
func (f *Folder) NumItems(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshot), nil
}

// Get returns the snapshot item at the given index.
func (f *Folder) Get(ctx context.Context, index int) (*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.snapshot) {
		return nil, fmt.Errorf("folder %s: index %d out of range [0, %d)", f.UID(), index, len(f.snapshot))
	}
	return f.snapshot[index], nil
}

// GetAll returns the current snapshot.
func (f *Folder) GetAll(ctx context.Context) ([]*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Item, len(f.snapshot))
	copy(out, f.snapshot)
	return out, nil
}

// Put writes the item to disk and returns its UID on this provider. When
// overwrite is false and the target file already holds a comparably-new
// item, the clash is reported as a *ConflictError; identical content is a
// no-op, and an older on-disk copy is replaced.
func (f *Folder) Put(ctx context.Context, item *model.Item, overwrite bool, existingID string) (string, error) {
	uid := existingID
	if uid == "" {
		uid = f.targetUID(item)
	}
	path := filepath.Join(f.root, filepath.FromSlash(uid))

	if !overwrite {
		existing, err := f.readItem(uid, path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Free slot, proceed.
		case err != nil:
			return "", fmt.Errorf("folder %s: inspecting %q: %w", f.UID(), uid, err)
		default:
			switch cmp := model.Compare(item, existing); cmp {
			case model.CompareEqual:
				return uid, nil
			case model.CompareNewer:
				// The on-disk copy is older than the incoming item: replace it.
			default:
				return "", &ConflictError{Comparison: cmp, FromItem: item, ToItem: existing}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("folder %s: creating parent of %q: %w", f.UID(), uid, err)
	}
	if err := os.WriteFile(path, item.Payload, 0o644); err != nil {
		return "", fmt.Errorf("folder %s: writing %q: %w", f.UID(), uid, err)
	}
	if item.Mtime != nil {
		// Preserve the source timestamp so future comparisons stay ordered.
		_ = os.Chtimes(path, *item.Mtime, *item.Mtime)
	}

	f.log.Debug("folder put", "provider", f.UID(), "uid", uid, "overwrite", overwrite)
	return uid, nil
}

// Delete removes the file with the given UID. Deleting a UID that is already
// gone is not an error.
func (f *Folder) Delete(ctx context.Context, id string) error {
	path := filepath.Join(f.root, filepath.FromSlash(id))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("folder %s: deleting %q: %w", f.UID(), id, err)
	}
	f.log.Debug("folder delete", "provider", f.UID(), "uid", id)
	return nil
}

// Finish releases the per-run snapshot.
func (f *Folder) Finish(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = nil
	f.byUID = nil
	return nil
}

// Watch reports directory changes through notify, debounced, until ctx is
// cancelled. Implements the optional [Watcher] interface.
func (f *Folder) Watch(ctx context.Context, notify func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("folder %s: creating watcher: %w", f.UID(), err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(f.root); err != nil {
		return fmt.Errorf("folder %s: watching %q: %w", f.UID(), f.root, err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Error("folder watch error", "provider", f.UID(), "error", err)
		case <-fire:
			timer = nil
			notify()
		}
	}
}

// targetUID derives a relative path for a brand-new item: the sanitised
// title when usable, otherwise a fresh uuid.
func (f *Folder) targetUID(item *model.Item) string {
	title := strings.TrimSpace(item.Title)
	title = strings.ReplaceAll(title, string(os.PathSeparator), "_")
	title = strings.ReplaceAll(title, "/", "_")
	if title == "" || strings.HasPrefix(title, ".") {
		return uuid.NewString()
	}
	return title
}

// readItem loads the on-disk item with the given UID for conflict checks.
func (f *Folder) readItem(uid, path string) (*model.Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime().UTC()
	return &model.Item{
		UID:     uid,
		Type:    FileType,
		Title:   filepath.Base(path),
		Payload: payload,
		Mtime:   &mtime,
	}, nil
}
