package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	ierrors "incr/internal/errors"
	"incr/internal/fingerprint"
	"incr/internal/logging"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// racyWindow is how recent a modification or change time may be before a
// fingerprint for that file is not cached. Filesystem timestamps are coarse,
// so a file rewritten twice within one tick keeps its times.
const racyWindow = 2 * time.Second

// fileStamp is the inode metadata a cached fingerprint is checked against.
// The change time moves on every write and on every utimes call, so
// restoring an old mtime after rewriting a file still invalidates it.
type fileStamp struct {
	dev   uint64
	ino   uint64
	ctime time.Time
}

type cacheEntry struct {
	size    int64
	modTime time.Time
	stamp   fileStamp
	fp      fingerprint.Fingerprint
}

// Options configures Store behavior
type Options struct {
	Hasher    fingerprint.Hasher // Defaults to xxh3
	Compress  bool               // zstd-compress written snapshots
	CacheSize int                // Fingerprints kept in memory, 0 disables the cache
	Logger    *zap.Logger
}

// Store loads, writes and scans snapshots.
type Store struct {
	hasher fingerprint.Hasher
	codec  *codec
	cache  *lru.Cache[string, cacheEntry]
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a new Store instance
func NewStore(opts Options) (*Store, error) {
	if opts.Hasher == nil {
		opts.Hasher = fingerprint.Default()
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.CacheSize < 0 {
		return nil, ierrors.ConfigError("snapshot cache size cannot be negative")
	}

	c, err := newCodec(opts.Compress)
	if err != nil {
		return nil, err
	}

	s := &Store{
		hasher: opts.Hasher,
		codec:  c,
		logger: opts.Logger,
		now:    time.Now,
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, cacheEntry](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Algorithm returns the name of the hash algorithm used for scans.
func (s *Store) Algorithm() string {
	return s.hasher.Algorithm()
}

// Load reads the snapshot stored at path. It reports false when the file
// is missing, unreadable, corrupt, or was written with another hash
// algorithm; none of those are errors.
func (s *Store) Load(path string) (*Snapshot, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("no snapshot on disk", zap.String("path", path))
		} else {
			s.logger.Warn("ignoring unreadable snapshot", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}

	snap, err := s.codec.decode(data)
	if err != nil {
		s.logger.Warn("ignoring corrupt snapshot", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	if snap.Algorithm() != s.hasher.Algorithm() {
		s.logger.Warn("ignoring snapshot written with another hash algorithm",
			zap.String("path", path),
			zap.String("algorithm", snap.Algorithm()),
			zap.String("want", s.hasher.Algorithm()))
		return nil, false
	}

	return snap, true
}

// Write persists snap at path, creating parent directories and replacing
// any existing file. The file is swapped in with a rename so a reader never
// observes a partially written snapshot.
func (s *Store) Write(path string, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	data, err := s.codec.encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ierrors.IOError("creating snapshot directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return ierrors.IOError("creating temp snapshot in", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return ierrors.IOError("writing snapshot", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return ierrors.IOError("syncing snapshot", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return ierrors.IOError("closing snapshot", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return ierrors.IOError("replacing snapshot", path, err)
	}

	s.logger.Debug("snapshot written",
		zap.String("path", path),
		zap.Int("files", snap.Len()),
		zap.Int("bytes", len(data)))
	return nil
}

// Scan fingerprints every regular file under roots. A file root is included
// directly and a directory root is walked recursively. Symlinks and special
// files are never followed or included, and roots that do not exist
// contribute nothing. Files and directories named in exclude are left out.
func (s *Store) Scan(ctx context.Context, roots []string, exclude ...string) (*Snapshot, error) {
	abs, err := normalizeRoots(roots)
	if err != nil {
		return nil, err
	}
	skip, err := normalizeRoots(exclude)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(skip))
	for _, p := range skip {
		excluded[p] = true
	}

	files := make(map[string]fingerprint.Fingerprint)
	for _, root := range abs {
		if err := s.scanRoot(ctx, root, excluded, files); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("scan complete",
		zap.Strings("roots", abs),
		zap.Int("files", len(files)))

	return New(s.hasher.Algorithm(), abs, files), nil
}

func (s *Store) scanRoot(ctx context.Context, root string, excluded map[string]bool, files map[string]fingerprint.Fingerprint) error {
	if excluded[root] {
		return nil
	}

	info, err := os.Lstat(root)
	if err != nil {
		if missing(err) {
			return nil
		}
		return ierrors.IOError("reading root", root, err)
	}

	switch {
	case info.Mode().IsRegular():
		return s.addFile(root, info, files)
	case !info.IsDir():
		return nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A file can vanish between listing and visiting it.
			if os.IsNotExist(err) {
				return nil
			}
			return ierrors.IOError("walking", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if excluded[path] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return ierrors.IOError("reading file info", path, err)
		}
		return s.addFile(path, info, files)
	})
	return err
}

func (s *Store) addFile(path string, info fs.FileInfo, files map[string]fingerprint.Fingerprint) error {
	if fp, ok := s.cached(path, info); ok {
		files[path] = fp
		return nil
	}

	fp, err := fingerprint.File(s.hasher, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ierrors.IOError("fingerprinting", path, err)
	}
	files[path] = fp

	if s.cache == nil {
		return nil
	}
	stamp, ok := statStamp(info)
	if !ok {
		return nil
	}
	now := s.now()
	if now.Sub(info.ModTime()) < racyWindow || now.Sub(stamp.ctime) < racyWindow {
		return nil
	}
	s.cache.Add(path, cacheEntry{size: info.Size(), modTime: info.ModTime(), stamp: stamp, fp: fp})
	return nil
}

func (s *Store) cached(path string, info fs.FileInfo) (fingerprint.Fingerprint, bool) {
	if s.cache == nil {
		return fingerprint.Fingerprint{}, false
	}
	entry, ok := s.cache.Get(path)
	if !ok {
		return fingerprint.Fingerprint{}, false
	}
	stamp, ok := statStamp(info)
	if !ok || entry.size != info.Size() || !entry.modTime.Equal(info.ModTime()) ||
		entry.stamp.dev != stamp.dev || entry.stamp.ino != stamp.ino || !entry.stamp.ctime.Equal(stamp.ctime) {
		s.cache.Remove(path)
		return fingerprint.Fingerprint{}, false
	}
	return entry.fp, true
}

// missing reports whether err means the path does not exist, including a
// path that runs through a regular file.
func missing(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

// normalizeRoots makes roots absolute, cleans them and drops duplicates.
func normalizeRoots(roots []string) ([]string, error) {
	seen := make(map[string]bool, len(roots))
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	sort.Strings(out)
	return out, nil
}
