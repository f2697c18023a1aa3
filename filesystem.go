package pintos

import (
	"context"
	"fmt"
	"log"
)

// Config holds the settings assembled by Option closures, mirroring the
// teacher's own options.go pattern (there: InodeOffset; here: the knobs a
// Mount/Mkfs call needs).
type Config struct {
	cacheSize int
	readOnly  bool
}

// Option configures a Filesystem at Mount/Mkfs time.
type Option func(*Config) error

// WithCacheSize overrides the default buffer cache capacity.
func WithCacheSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("pintos: cache size must be positive")
		}
		c.cacheSize = n
		return nil
	}
}

// WithReadOnly makes Create, Remove and Mkdir return ErrPermission. Writes
// through a File handle are not blocked by it.
func WithReadOnly() Option {
	return func(c *Config) error {
		c.readOnly = true
		return nil
	}
}

func defaultConfig() Config {
	return Config{cacheSize: CacheSize}
}

// Filesystem is the façade of §4.6: it owns the block device, buffer cache,
// free map, and open-inode table, and exposes the pintos syscall surface as
// Go methods.
type Filesystem struct {
	dev      BlockDevice
	cache    *Cache
	freeMap  *FreeMap
	inodes   *inodeTable
	readOnly bool

	rootSector uint32
}

// Mkfs formats dev as a fresh filesystem: a free map covering every sector
// and an empty root directory, then mounts it.
func Mkfs(dev BlockDevice, opts ...Option) (*Filesystem, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	cache := NewCache(dev, cfg.cacheSize)
	table := newInodeTable()

	freeMap, err := formatFreeMap(table, cache, dev.SectorCount())
	if err != nil {
		return nil, fmt.Errorf("pintos: mkfs: %w", err)
	}

	if ok := createInode(cache, freeMap, RootDirSector, 0, true, RootDirSector); !ok {
		return nil, fmt.Errorf("pintos: mkfs: failed to create root directory: %w", ErrNoSpace)
	}

	if err := cache.Shutdown(); err != nil {
		log.Printf("pintos: mkfs: flushing cache: %s", err)
	}
	return Mount(dev, opts...)
}

// Mount opens an already-formatted filesystem on dev.
func Mount(dev BlockDevice, opts ...Option) (*Filesystem, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	cache := NewCache(dev, cfg.cacheSize)
	table := newInodeTable()

	freeMap, err := openFreeMap(table, cache, dev.SectorCount())
	if err != nil {
		return nil, fmt.Errorf("pintos: mount: %w", err)
	}

	return &Filesystem{
		dev:        dev,
		cache:      cache,
		freeMap:    freeMap,
		inodes:     table,
		readOnly:   cfg.readOnly,
		rootSector: RootDirSector,
	}, nil
}

// Unmount flushes every dirty cache block back to the device. The
// Filesystem must not be used afterward.
func (fsys *Filesystem) Unmount(ctx context.Context) error {
	return fsys.cache.Shutdown()
}

// CacheStats returns cumulative cache hit/miss counts, standing in for the
// syscall surface's cache_stat.
func (fsys *Filesystem) CacheStats() (hits, misses uint64) {
	return fsys.cache.Stats()
}

// FreeSectors returns the number of sectors currently unallocated.
func (fsys *Filesystem) FreeSectors() uint32 {
	return fsys.dev.SectorCount() - fsys.freeMap.Allocated()
}

// DeviceReadCount and DeviceWriteCount report cumulative sector I/O against
// the underlying block device, the façade's cache_reads/cache_writes.
func (fsys *Filesystem) DeviceReadCount() uint64  { return fsys.dev.ReadCount() }
func (fsys *Filesystem) DeviceWriteCount() uint64 { return fsys.dev.WriteCount() }

// FreeCache forces a full cache evict-and-reload, the façade's free_cache.
func (fsys *Filesystem) FreeCache() error {
	return fsys.cache.FreeCache()
}

// Mount is a lightweight per-client session: the analogue of a pintos
// process's single `cwd` field, generalized so many sessions can share one
// Filesystem concurrently.
type Mount struct {
	fsys      *Filesystem
	cwdSector uint32
}

// NewSession opens a session rooted at the filesystem's root directory.
func (fsys *Filesystem) NewSession() *Mount {
	return &Mount{fsys: fsys, cwdSector: fsys.rootSector}
}

func (m *Mount) resolve(path string) (*Dir, string, error) {
	return resolvePath(m.fsys.inodes, m.fsys.cache, m.fsys.freeMap, m.fsys.rootSector, m.cwdSector, path)
}

// Create creates a new regular file of the given initial size at path.
func (m *Mount) Create(ctx context.Context, path string, initialSize int) error {
	if m.fsys.readOnly {
		return ErrPermission
	}
	if path == "" {
		return ErrInvalidPath
	}

	parent, name, err := m.resolve(path)
	if err != nil {
		return err
	}
	defer m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, parent.ino)

	if name == "" {
		return ErrInvalidPath
	}

	sector, err := m.fsys.freeMap.Allocate()
	if err != nil {
		return err
	}
	if ok := createInode(m.fsys.cache, m.fsys.freeMap, sector, uint32(initialSize), false, parent.ino.Inumber()); !ok {
		m.fsys.freeMap.Release(sector)
		return fmt.Errorf("pintos: create: %w", ErrNoSpace)
	}
	if err := parent.add(m.fsys.freeMap, name, sector); err != nil {
		m.fsys.freeMap.Release(sector)
		return err
	}
	return nil
}

// Open opens path (file or directory) and returns a File handle. Opening a
// directory via Open is permitted (matching the source's struct file
// wrapping any inode); directory-specific operations use Readdir.
func (m *Mount) Open(ctx context.Context, path string) (*File, error) {
	ino, err := m.openInode(path)
	if err != nil {
		return nil, err
	}
	return openFile(m.fsys.cache, m.fsys.freeMap, ino), nil
}

// OpenDir opens path as a directory, failing with ErrNotDirectory if it is a
// regular file.
func (m *Mount) OpenDir(ctx context.Context, path string) (*Dir, error) {
	ino, err := m.openInode(path)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, ino)
		return nil, ErrNotDirectory
	}
	return openDir(m.fsys.cache, ino), nil
}

func (m *Mount) openInode(path string) (*Inode, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	parent, name, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	defer m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, parent.ino)

	switch name {
	case "":
		return m.fsys.inodes.reopen(parent.ino), nil
	case ".", "..":
		d, err := stepComponent(m.fsys.inodes, m.fsys.cache, m.fsys.freeMap, parent, name)
		if err != nil {
			return nil, err
		}
		return d.ino, nil
	}

	sector, ok, err := parent.lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.fsys.inodes.open(m.fsys.cache, sector)
}

// Close releases a File handle.
func (m *Mount) Close(f *File) error {
	return m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, f.ino)
}

// CloseDir releases a Dir handle.
func (m *Mount) CloseDir(d *Dir) error {
	return m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, d.ino)
}

// Remove unlinks path. Removing a non-empty directory, or one open
// elsewhere, fails with ErrBusy; a final component of `.` or `..` is
// rejected with ErrInvalidPath.
func (m *Mount) Remove(ctx context.Context, path string) error {
	if m.fsys.readOnly {
		return ErrPermission
	}
	if path == "" {
		return ErrInvalidPath
	}

	parent, name, err := m.resolve(path)
	if err != nil {
		return err
	}
	defer m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, parent.ino)

	if name == "" || name == "." || name == ".." {
		return ErrInvalidPath
	}
	return parent.remove(m.fsys.inodes, m.fsys.freeMap, name)
}

// Mkdir creates a new, empty subdirectory at path.
func (m *Mount) Mkdir(ctx context.Context, path string) error {
	if m.fsys.readOnly {
		return ErrPermission
	}
	if path == "" {
		return ErrInvalidPath
	}

	parent, name, err := m.resolve(path)
	if err != nil {
		return err
	}
	defer m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, parent.ino)

	if name == "" {
		return ErrInvalidPath
	}

	sector, err := m.fsys.freeMap.Allocate()
	if err != nil {
		return err
	}
	if ok := createInode(m.fsys.cache, m.fsys.freeMap, sector, 0, true, parent.ino.Inumber()); !ok {
		m.fsys.freeMap.Release(sector)
		return fmt.Errorf("pintos: mkdir: %w", ErrNoSpace)
	}
	if err := parent.add(m.fsys.freeMap, name, sector); err != nil {
		m.fsys.freeMap.Release(sector)
		return err
	}
	return nil
}

// Chdir changes the session's current working directory.
func (m *Mount) Chdir(ctx context.Context, path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	ino, err := m.openInode(path)
	if err != nil {
		return err
	}
	if !ino.IsDir() {
		m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, ino)
		return ErrNotDirectory
	}
	m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, ino)
	m.cwdSector = ino.Inumber()
	return nil
}

// IsDir reports whether path names a directory.
func (m *Mount) IsDir(ctx context.Context, path string) (bool, error) {
	ino, err := m.openInode(path)
	if err != nil {
		return false, err
	}
	defer m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, ino)
	return ino.IsDir(), nil
}

// Inumber returns the inode sector backing path, the pintos inumber.
func (m *Mount) Inumber(ctx context.Context, path string) (uint32, error) {
	ino, err := m.openInode(path)
	if err != nil {
		return 0, err
	}
	defer m.fsys.inodes.close(m.fsys.cache, m.fsys.freeMap, ino)
	return ino.Inumber(), nil
}

// Readdir returns every entry name in the directory at path, in on-disk
// order, excluding `.` and `..`.
func (m *Mount) Readdir(ctx context.Context, path string) ([]string, error) {
	d, err := m.OpenDir(ctx, path)
	if err != nil {
		return nil, err
	}
	defer m.CloseDir(d)

	var names []string
	for {
		name, ok, err := d.Readdir()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		names = append(names, name)
	}
	return names, nil
}
