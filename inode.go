package pintos

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// onDiskInode is the exact 512-byte on-disk inode layout of §6:
// direct[122] + indirect + doubly_indirect + length + magic + is_dir + parent.
type onDiskInode struct {
	Direct         [directCount]uint32
	Indirect       uint32
	DoublyIndirect uint32
	Length         int32
	Magic          uint32
	IsDir          int32
	Parent         uint32
}

func (d *onDiskInode) marshal(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("pintos: inode buffer must be %d bytes", SectorSize)
	}
	off := 0
	for _, v := range d.Direct {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], d.Indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.DoublyIndirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.Length))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.Magic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.IsDir))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.Parent)
	return nil
}

func (d *onDiskInode) unmarshal(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("pintos: inode buffer must be %d bytes", SectorSize)
	}
	off := 0
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.DoublyIndirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.Length = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.Magic = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.IsDir = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.Parent = binary.LittleEndian.Uint32(buf[off:])

	if d.Magic != inodeMagic {
		return ErrBadMagic
	}
	return nil
}

func writeOnDiskInode(cache *Cache, sector uint32, disk *onDiskInode) error {
	var buf [SectorSize]byte
	if err := disk.marshal(buf[:]); err != nil {
		return err
	}
	return cache.Write(sector, buf[:], 0, SectorSize)
}

func bytesToSectors(n uint32) uint32 {
	return (n + SectorSize - 1) / SectorSize
}

// Inode is the in-memory, per-open-file-system-object handle of §3/§4.2. At
// most one instance exists per sector at any time (enforced by inodeTable);
// a reopen bumps openCount rather than allocating a new one.
type Inode struct {
	sector uint32

	mu           sync.Mutex
	disk         onDiskInode
	dirty        bool
	openCount    int
	removed      bool
	denyWriteCnt int
}

// createInode allocates the header at sector (already reserved by the
// caller, e.g. via FreeMap.Allocate) plus length bytes' worth of zero-filled
// data blocks, and persists the header. It does not register an in-memory
// Inode — callers that want a handle call inodeTable.open afterward, mirroring
// the source's separation of inode_create from inode_open.
func createInode(cache *Cache, fm *FreeMap, sector uint32, length uint32, isDir bool, parent uint32) bool {
	tmp := &Inode{sector: sector}
	tmp.disk.Magic = inodeMagic
	tmp.disk.Parent = parent
	if isDir {
		tmp.disk.IsDir = 1
	}

	sectors := bytesToSectors(length)
	for i := uint32(0); i < sectors; i++ {
		if _, err := tmp.dataSectorForWrite(cache, fm, i); err != nil {
			return false
		}
	}
	tmp.disk.Length = int32(length)
	if err := writeOnDiskInode(cache, sector, &tmp.disk); err != nil {
		return false
	}
	return true
}

// inodeTable is the process-wide open-inode singleton registry of §4.2,
// enforcing invariant I4 (at most one in-memory inode per sector).
type inodeTable struct {
	mu sync.Mutex
	m  map[uint32]*Inode
}

func newInodeTable() *inodeTable {
	return &inodeTable{m: make(map[uint32]*Inode)}
}

func (t *inodeTable) open(cache *Cache, sector uint32) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.m[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		return ino, nil
	}

	var buf [SectorSize]byte
	if err := cache.Read(sector, buf[:], 0, SectorSize); err != nil {
		return nil, err
	}
	var disk onDiskInode
	if err := disk.unmarshal(buf[:]); err != nil {
		return nil, fmt.Errorf("pintos: inode at sector %d: %w", sector, err)
	}

	ino := &Inode{sector: sector, disk: disk, openCount: 1}
	t.m[sector] = ino
	return ino, nil
}

// reopen increments the open count of an already-held inode, holding the
// inode lock across the increment (one of the pack's resolved open questions
// — see DESIGN.md).
func (t *inodeTable) reopen(ino *Inode) *Inode {
	ino.mu.Lock()
	ino.openCount++
	ino.mu.Unlock()
	return ino
}

// close decrements ino's open count; on the last close it writes back the
// header and, if the inode was removed, releases every sector it owns back
// to fm.
func (t *inodeTable) close(cache *Cache, fm *FreeMap, ino *Inode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino.mu.Lock()
	ino.openCount--
	remaining := ino.openCount
	removed := ino.removed
	ino.mu.Unlock()

	if remaining > 0 {
		return nil
	}

	delete(t.m, ino.sector)

	if err := ino.persistHeader(cache); err != nil {
		return err
	}
	if removed {
		return ino.releaseSectors(cache, fm)
	}
	return nil
}

func (ino *Inode) persistHeader(cache *Cache) error {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.persistHeaderLocked(cache)
}

func (ino *Inode) persistHeaderLocked(cache *Cache) error {
	if !ino.dirty {
		return nil
	}
	if err := writeOnDiskInode(cache, ino.sector, &ino.disk); err != nil {
		return err
	}
	ino.dirty = false
	return nil
}

// releaseSectors walks direct, indirect, and doubly-indirect levels and
// returns every non-zero sector to fm, including index blocks and the
// header itself.
func (ino *Inode) releaseSectors(cache *Cache, fm *FreeMap) error {
	for _, s := range ino.disk.Direct {
		if s != 0 {
			if err := fm.Release(s); err != nil {
				return err
			}
		}
	}
	if ino.disk.Indirect != 0 {
		if err := releaseIndexBlock(cache, fm, ino.disk.Indirect, 1); err != nil {
			return err
		}
	}
	if ino.disk.DoublyIndirect != 0 {
		if err := releaseIndexBlock(cache, fm, ino.disk.DoublyIndirect, 2); err != nil {
			return err
		}
	}
	return fm.Release(ino.sector)
}

// releaseIndexBlock recursively releases an index block and everything it
// points to, depth levels deep (1 for an indirect block, 2 for a
// doubly-indirect block), then itself.
func releaseIndexBlock(cache *Cache, fm *FreeMap, sector uint32, depth int) error {
	var buf [SectorSize]byte
	if err := cache.Read(sector, buf[:], 0, SectorSize); err != nil {
		return err
	}
	for i := 0; i < indirectRefs; i++ {
		ref := binary.LittleEndian.Uint32(buf[i*4:])
		if ref == 0 {
			continue
		}
		if depth == 1 {
			if err := fm.Release(ref); err != nil {
				return err
			}
		} else {
			if err := releaseIndexBlock(cache, fm, ref, depth-1); err != nil {
				return err
			}
		}
	}
	return fm.Release(sector)
}

// readIndexChain is the small recursive helper parameterized by level
// referenced in §9: it descends `path` (one index per level) starting from
// blockSector, returning the final u32 entry, or 0 if any level along the way
// is unallocated (a hole).
func readIndexChain(cache *Cache, blockSector uint32, path []uint32) (uint32, error) {
	if blockSector == 0 {
		return 0, nil
	}
	var buf [4]byte
	if err := cache.Read(blockSector, buf[:], int(path[0])*4, 4); err != nil {
		return 0, err
	}
	entry := binary.LittleEndian.Uint32(buf[:])
	if len(path) == 1 {
		return entry, nil
	}
	return readIndexChain(cache, entry, path[1:])
}

// ensureIndexChain is readIndexChain's write-side counterpart: it allocates
// any missing index blocks along path and returns the sector + in-block byte
// offset of the final leaf slot (which the caller then reads or overwrites).
func ensureIndexChain(cache *Cache, fm *FreeMap, blockSector uint32, path []uint32) (uint32, int, error) {
	idx := path[0]
	if len(path) == 1 {
		return blockSector, int(idx) * 4, nil
	}

	var buf [4]byte
	if err := cache.Read(blockSector, buf[:], int(idx)*4, 4); err != nil {
		return 0, 0, err
	}
	next := binary.LittleEndian.Uint32(buf[:])
	if next == 0 {
		s, err := fm.Allocate()
		if err != nil {
			return 0, 0, err
		}
		if err := cache.WriteZero(s); err != nil {
			fm.Release(s)
			return 0, 0, err
		}
		binary.LittleEndian.PutUint32(buf[:], s)
		if err := cache.Write(blockSector, buf[:], int(idx)*4, 4); err != nil {
			return 0, 0, err
		}
		next = s
	}
	return ensureIndexChain(cache, fm, next, path[1:])
}

func readLeaf(cache *Cache, sector uint32, offset int) (uint32, error) {
	var buf [4]byte
	if err := cache.Read(sector, buf[:], offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func allocLeafIfHole(cache *Cache, fm *FreeMap, sector uint32, offset int) (uint32, error) {
	v, err := readLeaf(cache, sector, offset)
	if err != nil {
		return 0, err
	}
	if v != 0 {
		return v, nil
	}
	s, err := fm.Allocate()
	if err != nil {
		return 0, err
	}
	if err := cache.WriteZero(s); err != nil {
		fm.Release(s)
		return 0, err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], s)
	if err := cache.Write(sector, buf[:], offset, 4); err != nil {
		return 0, err
	}
	return s, nil
}

// sectorForRead implements byte_to_sector for a read: it never allocates,
// returning 0 ("no sector") for any hole.
func (ino *Inode) sectorForRead(cache *Cache, fileBlockIdx uint32) (uint32, error) {
	if fileBlockIdx < directCount {
		return ino.disk.Direct[fileBlockIdx], nil
	}
	idx := fileBlockIdx - directCount
	if idx < indirectCount {
		return readIndexChain(cache, ino.disk.Indirect, []uint32{idx})
	}
	idx -= indirectCount
	outer, inner := idx/indirectRefs, idx%indirectRefs
	return readIndexChain(cache, ino.disk.DoublyIndirect, []uint32{outer, inner})
}

// dataSectorForWrite returns the data sector backing file block fileBlockIdx,
// allocating it (and any missing index blocks along the way) if it is
// currently a hole. Caller holds ino.mu.
func (ino *Inode) dataSectorForWrite(cache *Cache, fm *FreeMap, fileBlockIdx uint32) (uint32, error) {
	if fileBlockIdx < directCount {
		if ino.disk.Direct[fileBlockIdx] == 0 {
			s, err := fm.Allocate()
			if err != nil {
				return 0, err
			}
			if err := cache.WriteZero(s); err != nil {
				fm.Release(s)
				return 0, err
			}
			ino.disk.Direct[fileBlockIdx] = s
			ino.dirty = true
		}
		return ino.disk.Direct[fileBlockIdx], nil
	}

	idx := fileBlockIdx - directCount
	if idx < indirectCount {
		if ino.disk.Indirect == 0 {
			s, err := fm.Allocate()
			if err != nil {
				return 0, err
			}
			if err := cache.WriteZero(s); err != nil {
				fm.Release(s)
				return 0, err
			}
			ino.disk.Indirect = s
			ino.dirty = true
		}
		sector, offset, err := ensureIndexChain(cache, fm, ino.disk.Indirect, []uint32{idx})
		if err != nil {
			return 0, err
		}
		return allocLeafIfHole(cache, fm, sector, offset)
	}

	idx -= indirectCount
	if ino.disk.DoublyIndirect == 0 {
		s, err := fm.Allocate()
		if err != nil {
			return 0, err
		}
		if err := cache.WriteZero(s); err != nil {
			fm.Release(s)
			return 0, err
		}
		ino.disk.DoublyIndirect = s
		ino.dirty = true
	}
	outer, inner := idx/indirectRefs, idx%indirectRefs
	sector, offset, err := ensureIndexChain(cache, fm, ino.disk.DoublyIndirect, []uint32{outer, inner})
	if err != nil {
		return 0, err
	}
	return allocLeafIfHole(cache, fm, sector, offset)
}

// ReadAt copies up to size bytes starting at offset into buf, returning the
// number of bytes actually read. Reads past EOF return 0 with no error; a
// read of a hole returns zero bytes.
func (ino *Inode) ReadAt(cache *Cache, buf []byte, offset, size int) (int, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	length := int(ino.disk.Length)
	if offset >= length {
		return 0, nil
	}
	if offset+size > length {
		size = length - offset
	}

	read := 0
	for read < size {
		blockIdx := uint32((offset + read) / SectorSize)
		blockOff := (offset + read) % SectorSize
		chunk := SectorSize - blockOff
		if chunk > size-read {
			chunk = size - read
		}

		sector, err := ino.sectorForRead(cache, blockIdx)
		if err != nil {
			return read, err
		}
		if sector == 0 {
			for i := 0; i < chunk; i++ {
				buf[read+i] = 0
			}
		} else if err := cache.Read(sector, buf[read:read+chunk], blockOff, chunk); err != nil {
			return read, err
		}
		read += chunk
	}
	return read, nil
}

// WriteAt writes size bytes from buf at offset, growing the file (allocating
// new sectors via fm) if offset+size exceeds the current length. Returns the
// number of bytes actually written, which may be short on allocation
// failure; growth already performed is retained even on a short write.
func (ino *Inode) WriteAt(cache *Cache, fm *FreeMap, buf []byte, offset, size int) (int, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if ino.denyWriteCnt > 0 {
		return 0, ErrPermission
	}

	end := offset + size
	if end > int(ino.disk.Length) {
		if fm == nil {
			return 0, fmt.Errorf("pintos: cannot grow inode %d without a free map: %w", ino.sector, ErrNoSpace)
		}
		if end > maxFileLength {
			return 0, fmt.Errorf("pintos: write would exceed max file length: %w", ErrNoSpace)
		}
	}

	written := 0
	for written < size {
		blockIdx := uint32((offset + written) / SectorSize)
		blockOff := (offset + written) % SectorSize
		chunk := SectorSize - blockOff
		if chunk > size-written {
			chunk = size - written
		}

		sector, err := ino.dataSectorForWrite(cache, fm, blockIdx)
		if err != nil {
			if end > int(ino.disk.Length) && int(ino.disk.Length) < offset+written {
				ino.disk.Length = int32(offset + written)
				ino.dirty = true
				ino.persistHeaderLocked(cache)
			}
			return written, err
		}
		if err := cache.Write(sector, buf[written:written+chunk], blockOff, chunk); err != nil {
			return written, err
		}
		written += chunk
	}

	if end > int(ino.disk.Length) {
		ino.disk.Length = int32(end)
		ino.dirty = true
	}
	if err := ino.persistHeaderLocked(cache); err != nil {
		return written, err
	}
	return written, nil
}

// Length returns the inode's current byte length.
func (ino *Inode) Length() int {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return int(ino.disk.Length)
}

// Inumber returns the sector this inode is stored at.
func (ino *Inode) Inumber() uint32 { return ino.sector }

// IsDir reports whether this inode represents a directory.
func (ino *Inode) IsDir() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.IsDir != 0
}

// SetDir sets the is_dir flag.
func (ino *Inode) SetDir(v bool) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if v {
		ino.disk.IsDir = 1
	} else {
		ino.disk.IsDir = 0
	}
	ino.dirty = true
}

// Parent returns the sector of the containing directory (I6).
func (ino *Inode) Parent() uint32 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.Parent
}

// SetParent sets the sector of the containing directory.
func (ino *Inode) SetParent(sector uint32) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.disk.Parent = sector
	ino.dirty = true
}

// Remove marks the inode for deletion: its sectors are released once the
// last open handle is closed.
func (ino *Inode) Remove() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.removed = true
}

// Removed reports whether Remove has been called.
func (ino *Inode) Removed() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.removed
}

// OpenCount returns the current open-reference count.
func (ino *Inode) OpenCount() int {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.openCount
}

// DenyWrite increments the deny-write counter; subsequent writes through any
// handle return ErrPermission until AllowWrite is called.
func (ino *Inode) DenyWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt++
}

// AllowWrite decrements the deny-write counter.
func (ino *Inode) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWriteCnt > 0 {
		ino.denyWriteCnt--
	}
}

// DenyWriteCount returns the current deny-write counter.
func (ino *Inode) DenyWriteCount() int {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.denyWriteCnt
}
