package pintos

import (
	"strings"
)

// dirEntry is the exact on-disk directory record of §3: a 4-byte inode
// sector, a fixed name field sized NameMax+1, and an in-use byte. Entry
// index within the file is persistent — remove clears in_use in place rather
// than compacting the file.
type dirEntry struct {
	Sector uint32
	Name   [NameMax + 1]byte
	InUse  bool
}

func (e *dirEntry) marshal(buf []byte) {
	buf[0] = byte(e.Sector)
	buf[1] = byte(e.Sector >> 8)
	buf[2] = byte(e.Sector >> 16)
	buf[3] = byte(e.Sector >> 24)
	copy(buf[4:4+NameMax+1], e.Name[:])
	if e.InUse {
		buf[4+NameMax+1] = 1
	} else {
		buf[4+NameMax+1] = 0
	}
}

func (e *dirEntry) unmarshal(buf []byte) {
	e.Sector = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	copy(e.Name[:], buf[4:4+NameMax+1])
	e.InUse = buf[4+NameMax+1] != 0
}

func (e *dirEntry) name() string {
	n := e.Name[:]
	for i, b := range n {
		if b == 0 {
			n = n[:i]
			break
		}
	}
	return string(n)
}

func (e *dirEntry) setName(s string) {
	for i := range e.Name {
		e.Name[i] = 0
	}
	copy(e.Name[:], s)
}

// Dir is a handle on a directory: an inode known to be a directory, plus a
// cursor position used by Readdir. Lookup/Add/Remove always scan from the
// start of the file and are unaffected by the cursor.
type Dir struct {
	ino   *Inode
	cache *Cache
	pos   int // byte offset of the next Readdir candidate
}

func openDir(cache *Cache, ino *Inode) *Dir {
	return &Dir{ino: ino, cache: cache}
}

// Inode returns the underlying inode.
func (d *Dir) Inode() *Inode { return d.ino }

// forEach scans every dirEntrySize record (in use or not) and invokes f with
// its byte offset and decoded value; f returns false to stop the scan early.
func (d *Dir) forEach(f func(off int, e dirEntry) bool) error {
	length := d.ino.Length()
	buf := make([]byte, dirEntrySize)
	for off := 0; off+dirEntrySize <= length; off += dirEntrySize {
		n, err := d.ino.ReadAt(d.cache, buf, off, dirEntrySize)
		if err != nil {
			return err
		}
		if n < dirEntrySize {
			break
		}
		var e dirEntry
		e.unmarshal(buf)
		if !f(off, e) {
			return nil
		}
	}
	return nil
}

// lookup performs the linear scan of §4.3: dir_lookup. It returns the
// matching entry's inode sector, or ok=false if no in-use entry has that
// name.
func (d *Dir) lookup(name string) (sector uint32, ok bool, err error) {
	err = d.forEach(func(_ int, e dirEntry) bool {
		if e.InUse && e.name() == name {
			sector, ok = e.Sector, true
			return false
		}
		return true
	})
	return sector, ok, err
}

// add implements dir_add: it fails if name already exists, is empty, or
// exceeds NameMax; otherwise it fills the first free (!in_use) slot or
// appends a new record.
func (d *Dir) add(fm *FreeMap, name string, sector uint32) error {
	if name == "" || len(name) > NameMax {
		return ErrInvalidPath
	}

	var freeOff = -1
	exists := false
	err := d.forEach(func(off int, e dirEntry) bool {
		if e.InUse && e.name() == name {
			exists = true
			return false
		}
		if !e.InUse && freeOff < 0 {
			freeOff = off
		}
		return true
	})
	if err != nil {
		return err
	}
	if exists {
		return ErrExist
	}

	var e dirEntry
	e.Sector = sector
	e.InUse = true
	e.setName(name)
	buf := make([]byte, dirEntrySize)
	e.marshal(buf)

	off := freeOff
	if off < 0 {
		off = d.ino.Length()
	}
	_, err = d.ino.WriteAt(d.cache, fm, buf, off, dirEntrySize)
	return err
}

// remove implements dir_remove: it clears the entry's in_use byte (the slot
// is retained for future reuse by add) and marks the target inode removed,
// so its sectors are released once its open count reaches zero.
func (d *Dir) remove(table *inodeTable, fm *FreeMap, name string) error {
	var foundOff = -1
	var target uint32
	err := d.forEach(func(off int, e dirEntry) bool {
		if e.InUse && e.name() == name {
			foundOff, target = off, e.Sector
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if foundOff < 0 {
		return ErrNotFound
	}

	ino, err := table.open(d.cache, target)
	if err != nil {
		return err
	}
	if ino.IsDir() {
		// A directory may only be unlinked while empty and not open
		// elsewhere; this handle's own open counts as the "1".
		targetDir := openDir(d.cache, ino)
		empty, err := targetDir.isEmpty()
		if err != nil {
			table.close(d.cache, fm, ino)
			return err
		}
		if !empty {
			table.close(d.cache, fm, ino)
			return ErrBusy
		}
		if ino.OpenCount() > 1 {
			table.close(d.cache, fm, ino)
			return ErrBusy
		}
	}
	// Regular files may be unlinked while open elsewhere (classic
	// unlink-while-open); their sectors are released on the last close.

	var zero [dirEntrySize]byte
	zero[4+NameMax+1] = 0 // in_use = false; sector and name are zeroed too
	if _, err := d.ino.WriteAt(d.cache, fm, zero[:], foundOff, dirEntrySize); err != nil {
		table.close(d.cache, fm, ino)
		return err
	}

	ino.Remove()
	return table.close(d.cache, fm, ino)
}

// isEmpty reports whether every entry is !in_use, ignoring `.` and `..`
// which are never materialized on disk.
func (d *Dir) isEmpty() (bool, error) {
	empty := true
	err := d.forEach(func(_ int, e dirEntry) bool {
		if e.InUse {
			empty = false
			return false
		}
		return true
	})
	return empty, err
}

// Readdir advances the per-handle cursor to the next in-use entry and
// returns its name. It returns ok=false at end of directory. `.` and `..`
// are never produced, matching §4.3.
func (d *Dir) Readdir() (name string, ok bool, err error) {
	length := d.ino.Length()
	buf := make([]byte, dirEntrySize)
	for d.pos+dirEntrySize <= length {
		off := d.pos
		d.pos += dirEntrySize
		n, err := d.ino.ReadAt(d.cache, buf, off, dirEntrySize)
		if err != nil {
			return "", false, err
		}
		if n < dirEntrySize {
			break
		}
		var e dirEntry
		e.unmarshal(buf)
		if e.InUse {
			return e.name(), true, nil
		}
	}
	return "", false, nil
}

// RewindReaddir resets the Readdir cursor to the beginning of the directory.
func (d *Dir) RewindReaddir() { d.pos = 0 }

// splitPath breaks path into non-empty components, collapsing repeated
// slashes as required by §4.3's path resolution rules.
func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// resolvePath implements dir_find: it walks path component by component
// starting from root (if path is absolute) or cwd (otherwise), handling `.`
// and `..`, and returns an open handle on the final component's *containing*
// directory plus the final component's name. The caller is responsible for
// closing the returned Dir's inode via table.close. If path has no
// components (e.g. "/"), lastComponent is returned empty and parent is the
// starting root/cwd directory itself. A final `.` or `..` is returned as the
// last component without being resolved, like any other name.
func resolvePath(table *inodeTable, cache *Cache, fm *FreeMap, rootSector, cwdSector uint32, path string) (*Dir, string, error) {
	if path == "" {
		return nil, "", ErrInvalidPath
	}

	startSector := cwdSector
	if strings.HasPrefix(path, "/") {
		startSector = rootSector
	}

	curIno, err := table.open(cache, startSector)
	if err != nil {
		return nil, "", err
	}
	if !curIno.IsDir() {
		table.close(cache, fm, curIno)
		return nil, "", ErrNotDirectory
	}
	cur := openDir(cache, curIno)

	parts := splitPath(path)
	if len(parts) == 0 {
		return cur, "", nil
	}

	for i := 0; i < len(parts)-1; i++ {
		name := parts[i]
		if len(name) > NameMax {
			table.close(cache, fm, cur.ino)
			return nil, "", ErrInvalidPath
		}
		next, err := stepComponent(table, cache, fm, cur, name)
		table.close(cache, fm, cur.ino)
		if err != nil {
			return nil, "", err
		}
		cur = next
	}

	last := parts[len(parts)-1]
	if len(last) > NameMax {
		table.close(cache, fm, cur.ino)
		return nil, "", ErrInvalidPath
	}
	return cur, last, nil
}

// stepComponent resolves one path component against dir, returning a new
// open Dir handle. The caller is responsible for closing dir's own inode;
// stepComponent never closes its input. `..` of the root directory fails with
// ErrNotFound.
func stepComponent(table *inodeTable, cache *Cache, fm *FreeMap, dir *Dir, name string) (*Dir, error) {
	switch name {
	case ".":
		return openDir(cache, table.reopen(dir.ino)), nil
	case "..":
		if dir.ino.Inumber() == RootDirSector {
			return nil, ErrNotFound
		}
		ino, err := table.open(cache, dir.ino.Parent())
		if err != nil {
			return nil, err
		}
		return openDir(cache, ino), nil
	default:
		sector, ok, err := dir.lookup(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}
		ino, err := table.open(cache, sector)
		if err != nil {
			return nil, err
		}
		if !ino.IsDir() {
			table.close(cache, fm, ino)
			return nil, ErrNotDirectory
		}
		return openDir(cache, ino), nil
	}
}
