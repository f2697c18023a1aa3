package pintos

import (
	"fmt"
	"sync"
)

// FreeMap is the bitmap-backed allocator of §4.5. It is stored as the content
// of an ordinary file whose inode lives at FreeMapSector, so all of its I/O
// goes through the same buffer cache as user data; bit value 1 means free.
type FreeMap struct {
	mu    sync.Mutex
	ino   *Inode
	cache *Cache
	bits  []byte // one bit per sector, 1 = free
	total uint32
}

func bitSet(bits []byte, i uint32) bool {
	return bits[i/8]&(1<<(i%8)) != 0
}

func bitClear(bits []byte, i uint32) {
	bits[i/8] &^= 1 << (i % 8)
}

func bitMark(bits []byte, i uint32) {
	bits[i/8] |= 1 << (i % 8)
}

// formatFreeMap builds the in-memory bitmap first (every sector free except
// the reserved boot/free-map/root sectors), then uses that very bitmap to
// back the allocation its own inode needs — the same bootstrap trick the
// source uses: free_map_create's bitmap already reflects reality in memory
// before a single byte of it has been written to disk.
func formatFreeMap(table *inodeTable, cache *Cache, totalSectors uint32) (*FreeMap, error) {
	nbytes := int((totalSectors + 7) / 8)
	fm := &FreeMap{bits: make([]byte, nbytes), total: totalSectors}
	for i := range fm.bits {
		fm.bits[i] = 0xff
	}
	// Clear any padding bits beyond totalSectors.
	for i := totalSectors; i < uint32(nbytes)*8; i++ {
		bitClear(fm.bits, i)
	}
	for _, reserved := range []uint32{BootSector, FreeMapSector, RootDirSector} {
		bitClear(fm.bits, reserved)
	}

	if ok := createInode(cache, fm, FreeMapSector, uint32(nbytes), false, FreeMapSector); !ok {
		return nil, fmt.Errorf("pintos: failed to create free map inode: %w", ErrNoSpace)
	}
	ino, err := table.open(cache, FreeMapSector)
	if err != nil {
		return nil, err
	}
	fm.ino = ino
	fm.cache = cache

	if err := fm.flush(); err != nil {
		return nil, err
	}
	return fm, nil
}

// openFreeMap loads an existing free map from disk.
func openFreeMap(table *inodeTable, cache *Cache, totalSectors uint32) (*FreeMap, error) {
	ino, err := table.open(cache, FreeMapSector)
	if err != nil {
		return nil, err
	}
	nbytes := int((totalSectors + 7) / 8)
	bits := make([]byte, nbytes)
	n, err := ino.ReadAt(cache, bits, 0, len(bits))
	if err != nil {
		return nil, err
	}
	if n != len(bits) {
		return nil, fmt.Errorf("pintos: short read loading free map: %w", ErrIO)
	}
	return &FreeMap{ino: ino, cache: cache, bits: bits, total: totalSectors}, nil
}

// flush persists the bitmap to its backing inode. It always writes exactly
// the inode's current length at offset 0, so it never triggers growth (which
// would re-enter Allocate while fm.mu is already held); this is load-bearing,
// not incidental.
func (fm *FreeMap) flush() error {
	if fm.ino == nil {
		return nil
	}
	_, err := fm.ino.WriteAt(fm.cache, fm, fm.bits, 0, len(fm.bits))
	return err
}

// Allocate reserves the first free sector, marks it used, and returns it.
// Sectors are allocated one at a time, matching §6: callers needing cnt
// sectors call Allocate cnt times.
func (fm *FreeMap) Allocate() (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for i := uint32(0); i < fm.total; i++ {
		if bitSet(fm.bits, i) {
			bitClear(fm.bits, i)
			if err := fm.flush(); err != nil {
				bitMark(fm.bits, i) // undo on failure
				return 0, err
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("pintos: free map exhausted: %w", ErrNoSpace)
}

// Release returns sector to the free pool.
func (fm *FreeMap) Release(sector uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	bitMark(fm.bits, sector)
	return fm.flush()
}

// Allocated reports how many sectors are currently marked in-use, for the
// free-map conservation consistency check (§8).
func (fm *FreeMap) Allocated() uint32 {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	n := uint32(0)
	for i := uint32(0); i < fm.total; i++ {
		if !bitSet(fm.bits, i) {
			n++
		}
	}
	return n
}
