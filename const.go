package pintos

// SectorSize is the fixed size in bytes of a single device sector.
const SectorSize = 512

// Sector reserves: sector 0 is the boot sector (unmanaged), sector 1 holds the
// free map's inode, sector 2 is the root directory's inode.
const (
	BootSector    = 0
	FreeMapSector = 1
	RootDirSector = 2
)

// Inode index tree geometry.
const (
	directCount      = 122
	indirectRefs     = 128
	indirectCount    = indirectRefs
	doublyIndirectN  = indirectRefs * indirectRefs
	inodeMagic       = 0x494e4f44
	maxFileLength    = (directCount + indirectCount + doublyIndirectN) * SectorSize
)

// NameMax is the maximum length, in bytes, of a single path component.
const NameMax = 14

// dirEntrySize is the on-disk size of one directory record:
// inode_sector (4) + name[NameMax+1] (15) + in_use (1).
const dirEntrySize = 4 + (NameMax + 1) + 1

// CacheSize is the number of 512-byte blocks held by the buffer cache (N).
const CacheSize = 64
