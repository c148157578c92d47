package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/youruser/pairprog/internal/logging"
)

const (
	// MaxFileSize is the largest file Dir tracks.
	MaxFileSize = 1 << 20
	sniffLen    = 8000
)

// DefaultIgnore lists the directories and file patterns Dir skips.
var DefaultIgnore = []string{".git", ".hg", ".svn", "node_modules", "vendor", ".idea", "*.swp", "*.tmp", "*~"}

// Dir treats the text files under a directory as open documents. File
// writes are reported as changes; there is no separate save signal.
type Dir struct {
	root    string
	ignore  []string
	watcher *fsnotify.Watcher
	hub     hub

	mu      sync.RWMutex
	files   map[string]struct{}
	started bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewDir prepares a watcher for root. Call Start to begin tracking.
func NewDir(root string, ignore []string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("watch root must be a directory")
	}
	if ignore == nil {
		ignore = DefaultIgnore
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Dir{
		root:    abs,
		ignore:  ignore,
		watcher: watcher,
		files:   make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched directory.
func (d *Dir) Root() string {
	return d.root
}

// Start walks the tree, registers watches and processes events until ctx is
// cancelled or Close is called.
func (d *Dir) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	if err := d.addRecursive(d.root, false); err != nil {
		return err
	}
	go d.processEvents(ctx)
	return nil
}

// Close stops watching.
func (d *Dir) Close() error {
	var err error
	d.stopOnce.Do(func() {
		close(d.done)
		err = d.watcher.Close()
	})
	return err
}

// List returns the tracked files in sorted order.
func (d *Dir) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.files))
	for k := range d.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Read returns the current content of a tracked file from disk.
func (d *Dir) Read(key string) (string, error) {
	d.mu.RLock()
	_, ok := d.files[key]
	d.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if len(data) > MaxFileSize || isBinary(data) {
		return "", ErrNotText
	}
	return string(data), nil
}

// Subscribe registers fn for every subsequent event.
func (d *Dir) Subscribe(fn func(Event)) Subscription {
	return d.hub.subscribe(fn)
}

func (d *Dir) addRecursive(root string, announce bool) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // Ignore errors, continue walking
		}
		if path != d.root && d.shouldIgnore(path) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return d.watcher.Add(path)
		}
		if d.track(path) && announce {
			d.hub.emit(Event{Kind: KindOpened, Key: path})
		}
		return nil
	})
}

// track adds path when it is a small text file. It reports whether the file
// was newly tracked.
func (d *Dir) track(path string) bool {
	if !eligible(path) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[path]; ok {
		return false
	}
	d.files[path] = struct{}{}
	return true
}

func (d *Dir) untrack(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[path]; !ok {
		return false
	}
	delete(d.files, path)
	return true
}

func (d *Dir) untrackUnder(dir string) []string {
	prefix := dir + string(filepath.Separator)
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed []string
	for k := range d.files {
		if strings.HasPrefix(k, prefix) {
			delete(d.files, k)
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return removed
}

func (d *Dir) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		rel = path
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, pattern := range d.ignore {
		for _, part := range parts {
			if part == pattern {
				return true
			}
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

func (d *Dir) processEvents(ctx context.Context) {
	log := logging.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handle(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Error("file watcher error", "root", d.root, "error", err)
		}
	}
}

func (d *Dir) handle(event fsnotify.Event) {
	path := event.Name
	if d.shouldIgnore(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if d.untrack(path) {
			d.hub.emit(Event{Kind: KindClosed, Key: path})
			return
		}
		for _, k := range d.untrackUnder(path) {
			d.hub.emit(Event{Kind: KindClosed, Key: k})
		}

	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			d.addRecursive(path, true)
			return
		}
		if d.track(path) {
			d.hub.emit(Event{Kind: KindOpened, Key: path})
			return
		}
		// A temp file renamed over a tracked file arrives as Create.
		if d.tracked(path) {
			d.hub.emit(Event{Kind: KindChanged, Key: path})
		}

	case event.Has(fsnotify.Write):
		if d.track(path) {
			d.hub.emit(Event{Kind: KindOpened, Key: path})
		}
		if d.tracked(path) {
			d.hub.emit(Event{Kind: KindChanged, Key: path})
		}
	}
}

func (d *Dir) tracked(path string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[path]
	return ok
}

func eligible(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > MaxFileSize {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false
	}
	return !isBinary(buf[:n])
}

func isBinary(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}
