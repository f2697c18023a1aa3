package pintos

import "errors"

// Package-specific error variables, usable with errors.Is() for error handling.
var (
	// ErrInvalidPath is returned for an empty path or name, or a component
	// longer than NameMax. A missing component yields ErrNotFound and a
	// parent that isn't a directory yields ErrNotDirectory.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoSpace is returned when the free map is exhausted during allocation.
	ErrNoSpace = errors.New("no free sectors available")

	// ErrNoMemory names a failed transient buffer allocation. No function in
	// this package returns it.
	ErrNoMemory = errors.New("allocation failed")

	// ErrBusy is returned when removing a non-empty directory, or one that is
	// open elsewhere.
	ErrBusy = errors.New("directory not empty or still open")

	// ErrIO is returned when the underlying block device fails.
	ErrIO = errors.New("device i/o error")

	// ErrPermission is returned when writing to a deny-write inode or to a
	// directory handle.
	ErrPermission = errors.New("permission denied")

	// ErrNotDirectory is returned when a path component that must be a
	// directory isn't one.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory names a file operation attempted on a directory inode.
	// No function in this package returns it.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotFound is returned when a directory entry lookup fails.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExist is returned when dir_add finds the name already in use.
	ErrExist = errors.New("file already exists")

	// ErrBadMagic is returned when an on-disk inode's magic constant doesn't match.
	ErrBadMagic = errors.New("corrupt inode: bad magic")

	// ErrNotMounted names use of a Filesystem after Unmount. No function in
	// this package returns it: Unmount does not mark the Filesystem, and later
	// calls are not checked.
	ErrNotMounted = errors.New("filesystem not mounted")
)
