package pintos

import (
	"log"
	"sync"
)

// cacheBlock is one resident 512-byte page. mu guards data, dirty and valid;
// the cache lock protects the map entry and list linkage, and sector is only
// changed while both locks are held. Lock order is always cache -> block,
// never the reverse.
type cacheBlock struct {
	mu sync.Mutex

	sector uint32
	valid  bool
	dirty  bool
	data   [SectorSize]byte

	prev, next *cacheBlock // MRU/LRU linkage; head is most recently used
}

// Cache is the write-back buffer cache of §4.1: a fixed-capacity LRU of
// sector-sized blocks sitting between the inode layer and the block device.
type Cache struct {
	dev BlockDevice

	mu      sync.Mutex
	bySect  map[uint32]*cacheBlock
	head    *cacheBlock // MRU
	tail    *cacheBlock // LRU
	blocks  []*cacheBlock

	hits, misses uint64
}

// NewCache creates a cache of the given block capacity over dev, with all
// blocks preallocated up front (see DESIGN.md "open questions resolved": the
// cache always holds exactly N blocks after init, never fewer). A size <= 0
// falls back to CacheSize.
func NewCache(dev BlockDevice, size int) *Cache {
	if size <= 0 {
		size = CacheSize
	}
	c := &Cache{
		dev:    dev,
		bySect: make(map[uint32]*cacheBlock, size),
		blocks: make([]*cacheBlock, 0, size),
	}
	for i := 0; i < size; i++ {
		b := &cacheBlock{}
		c.blocks = append(c.blocks, b)
		c.pushFront(b)
	}
	return c
}

// capacity returns the number of blocks the cache was created with.
func (c *Cache) capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// pushFront links b as the new MRU. Caller holds c.mu.
func (c *Cache) pushFront(b *cacheBlock) {
	b.prev = nil
	b.next = c.head
	if c.head != nil {
		c.head.prev = b
	}
	c.head = b
	if c.tail == nil {
		c.tail = b
	}
}

// unlink removes b from the list without touching its neighbors' identity.
// Caller holds c.mu.
func (c *Cache) unlink(b *cacheBlock) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		c.head = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		c.tail = b.prev
	}
	b.prev, b.next = nil, nil
}

// touch moves b to the front (MRU). Caller holds c.mu.
func (c *Cache) touch(b *cacheBlock) {
	if c.head == b {
		return
	}
	c.unlink(b)
	c.pushFront(b)
}

// lookupOrLoad returns the cache block holding sector, loading it from the
// device on a miss and evicting the LRU block (writing it back first if
// dirty) if the cache is full. Implements the algorithm in §4.1.
func (c *Cache) lookupOrLoad(sector uint32) (*cacheBlock, error) {
	c.mu.Lock()
	if b, ok := c.bySect[sector]; ok {
		c.touch(b)
		c.hits++
		c.mu.Unlock()
		return b, nil
	}
	c.misses++

	// Every block is preallocated, so a miss always evicts the LRU block.
	b := c.tail
	c.unlink(b)
	delete(c.bySect, b.sector)

	// Hold the block lock for the duration of the writeback+reload so no
	// other goroutine can observe it half-reassigned, but release the cache
	// lock first per the lock-order rule (cache -> block, never reverse, and
	// never held across device I/O).
	b.mu.Lock()
	oldSector := b.sector
	b.sector = sector
	c.bySect[sector] = b
	c.pushFront(b)
	c.mu.Unlock()

	defer b.mu.Unlock()

	if b.valid && b.dirty {
		if err := c.dev.WriteSector(oldSector, b.data[:]); err != nil {
			// Fatal for this block's old content: it is lost. The block is
			// still reused for the new sector below.
			log.Printf("pintos: cache eviction write-back of sector %d failed: %s", oldSector, err)
		}
	}

	b.dirty = false
	if err := c.dev.ReadSector(sector, b.data[:]); err != nil {
		b.valid = false
		return nil, err
	}
	b.valid = true
	return b, nil
}

// Read copies size bytes starting at offset within sector into dst.
func (c *Cache) Read(sector uint32, dst []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > SectorSize {
		return ErrInvalidPath
	}
	b, err := c.lookupOrLoad(sector)
	if err != nil {
		return err
	}
	b.mu.Lock()
	copy(dst, b.data[offset:offset+size])
	b.mu.Unlock()
	return nil
}

// Write copies size bytes from src into the cached block for sector at
// offset, and marks it dirty. The write is not synchronously propagated to
// the device; that happens on eviction or Shutdown.
func (c *Cache) Write(sector uint32, src []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > SectorSize {
		return ErrInvalidPath
	}
	b, err := c.lookupOrLoad(sector)
	if err != nil {
		return err
	}
	b.mu.Lock()
	copy(b.data[offset:offset+size], src)
	b.dirty = true
	b.mu.Unlock()
	return nil
}

// WriteZero clears SectorSize bytes of sector, marking the block dirty. Used
// by the inode layer to zero-fill newly allocated sectors (§4.2).
func (c *Cache) WriteZero(sector uint32) error {
	b, err := c.lookupOrLoad(sector)
	if err != nil {
		return err
	}
	b.mu.Lock()
	for i := range b.data {
		b.data[i] = 0
	}
	b.dirty = true
	b.mu.Unlock()
	return nil
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// FreeCache writes back every dirty block and evicts it, leaving every block
// invalid so the next access reloads from the device. This mirrors
// cache.c's free_cache(), which loops evict_block() until cache_list is
// empty; our blocks are preallocated rather than freed, so "empty" here
// means "all invalid" rather than "the slice shrinks to zero".
func (c *Cache) FreeCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, b := range c.blocks {
		b.mu.Lock()
		if b.valid && b.dirty {
			if err := c.dev.WriteSector(b.sector, b.data[:]); err != nil {
				log.Printf("pintos: free_cache write-back of sector %d failed: %s", b.sector, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		b.valid = false
		b.dirty = false
		b.mu.Unlock()
	}
	c.bySect = make(map[uint32]*cacheBlock, len(c.blocks))
	return firstErr
}

// Shutdown writes back every dirty block. After it returns, every dirty
// block's content has been delivered to the device. The blocks are not
// freed: they stay resident and valid, and the cache remains usable.
func (c *Cache) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, b := range c.blocks {
		b.mu.Lock()
		if b.valid && b.dirty {
			if err := c.dev.WriteSector(b.sector, b.data[:]); err != nil {
				log.Printf("pintos: cache shutdown write-back of sector %d failed: %s", b.sector, err)
				if firstErr == nil {
					firstErr = err
				}
			}
			b.dirty = false
		}
		b.mu.Unlock()
	}
	return firstErr
}
