//go:build fuse

// Package fuse wires a pintos Filesystem onto github.com/hanwen/go-fuse/v2's
// high-level node API so a block-device-backed filesystem can be mounted and
// driven by real userspace programs, the same role inode_fuse.go plays for
// the teacher's read-only squashfs images — except every operation here is
// read-write, delegating to the façade in package pintos.
package fuse

import (
	"context"
	"errors"
	"syscall"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	pintos "github.com/cchen95/pintOS"
)

const attrTimeout = time.Second

// node is one directory entry's in-memory FUSE identity: an absolute path
// inside the façade and a back-pointer to the session it resolves through.
type node struct {
	gofs.Inode

	mount *pintos.Mount
	path  string
}

var (
	_ = (gofs.NodeLookuper)((*node)(nil))
	_ = (gofs.NodeGetattrer)((*node)(nil))
	_ = (gofs.NodeReaddirer)((*node)(nil))
	_ = (gofs.NodeOpener)((*node)(nil))
	_ = (gofs.NodeCreater)((*node)(nil))
	_ = (gofs.NodeMkdirer)((*node)(nil))
	_ = (gofs.NodeUnlinker)((*node)(nil))
	_ = (gofs.NodeRmdirer)((*node)(nil))
)

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func (n *node) fillAttr(ctx context.Context, out *fuse.Attr) syscall.Errno {
	isDir, err := n.mount.IsDir(ctx, n.path)
	if err != nil {
		return toErrno(err)
	}
	if isDir {
		out.Mode = syscall.S_IFDIR | 0755
		return gofs.OK
	}
	f, err := n.mount.Open(ctx, n.path)
	if err != nil {
		return toErrno(err)
	}
	out.Mode = syscall.S_IFREG | 0644
	out.Size = uint64(f.Filesize())
	n.mount.Close(f)
	return gofs.OK
}

// Getattr reports mode/size; pintos carries no permission or ownership
// metadata (Non-goal), so every file is 0644 and every directory 0755.
func (n *node) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	errno := n.fillAttr(ctx, &out.Attr)
	out.SetTimeout(attrTimeout)
	return errno
}

// Lookup resolves one path component below n and returns a child node.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	childP := childPath(n.path, name)
	isDir, err := n.mount.IsDir(ctx, childP)
	if err != nil {
		return nil, toErrno(err)
	}

	mode := uint32(syscall.S_IFREG)
	if isDir {
		mode = syscall.S_IFDIR
	}
	child := &node{mount: n.mount, path: childP}
	stable := gofs.StableAttr{Mode: mode}
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
	errno := child.fillAttr(ctx, &out.Attr)
	if errno != gofs.OK {
		return nil, errno
	}
	return n.NewInode(ctx, child, stable), gofs.OK
}

// Readdir lists the directory's children; `.` and `..` are synthesized by
// go-fuse itself, not by the façade (mirroring the teacher's own choice to
// materialize them only at the FUSE boundary).
func (n *node) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	names, err := n.mount.Readdir(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		isDir, err := n.mount.IsDir(ctx, childPath(n.path, name))
		if err != nil {
			return nil, toErrno(err)
		}
		mode := uint32(syscall.S_IFREG)
		if isDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return gofs.NewListDirStream(entries), gofs.OK
}

// Open returns a file handle wrapping a façade *pintos.File.
func (n *node) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	f, err := n.mount.Open(ctx, n.path)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fileHandle{mount: n.mount, f: f}, 0, gofs.OK
}

// Create makes a new regular file and returns both the node and an open
// handle on it, per go-fuse's NodeCreater contract.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofs.Inode, gofs.FileHandle, uint32, syscall.Errno) {
	childP := childPath(n.path, name)
	if err := n.mount.Create(ctx, childP, 0); err != nil {
		return nil, nil, 0, toErrno(err)
	}
	f, err := n.mount.Open(ctx, childP)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}

	child := &node{mount: n.mount, path: childP}
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
	child.fillAttr(ctx, &out.Attr)
	ch := n.NewInode(ctx, child, gofs.StableAttr{Mode: syscall.S_IFREG})
	return ch, &fileHandle{mount: n.mount, f: f}, 0, gofs.OK
}

// Mkdir creates a new subdirectory.
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	childP := childPath(n.path, name)
	if err := n.mount.Mkdir(ctx, childP); err != nil {
		return nil, toErrno(err)
	}
	child := &node{mount: n.mount, path: childP}
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
	child.fillAttr(ctx, &out.Attr)
	return n.NewInode(ctx, child, gofs.StableAttr{Mode: syscall.S_IFDIR}), gofs.OK
}

// Unlink removes a regular file.
func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.mount.Remove(ctx, childPath(n.path, name)))
}

// Rmdir removes an empty subdirectory.
func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.mount.Remove(ctx, childPath(n.path, name)))
}

func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return gofs.OK
	case errors.Is(err, pintos.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, pintos.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, pintos.ErrBusy):
		return syscall.EBUSY
	case errors.Is(err, pintos.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, pintos.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, pintos.ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, pintos.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, pintos.ErrInvalidPath):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}
