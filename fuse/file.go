//go:build fuse

package fuse

import (
	"context"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	pintos "github.com/cchen95/pintOS"
)

// fileHandle adapts a *pintos.File to go-fuse's FileHandle interfaces,
// mirroring the teacher's own *LoopbackFile forwarding shape (files.go) but
// forwarding to the façade instead of a real file descriptor.
type fileHandle struct {
	mount *pintos.Mount
	f     *pintos.File
}

var (
	_ = (gofs.FileReader)((*fileHandle)(nil))
	_ = (gofs.FileWriter)((*fileHandle)(nil))
	_ = (gofs.FileReleaser)((*fileHandle)(nil))
	_ = (gofs.FileGetattrer)((*fileHandle)(nil))
)

func (fh *fileHandle) Read(ctx context.Context, buf []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.f.ReadAt(buf, int(off))
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(buf[:n]), gofs.OK
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.f.WriteAt(data, int(off))
	if err != nil {
		return uint32(n), toErrno(err)
	}
	return uint32(n), gofs.OK
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(fh.mount.Close(fh.f))
}

func (fh *fileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0644
	out.Size = uint64(fh.f.Filesize())
	out.SetTimeout(attrTimeout)
	return gofs.OK
}
