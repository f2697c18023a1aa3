//go:build fuse

package fuse

import (
	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	pintos "github.com/cchen95/pintOS"
)

// Mount mounts m's root directory at dir and serves FUSE requests until the
// returned server is unmounted, the same convenience-wrapper shape as the
// teacher's own fs.Mount (over NewNodeFS + fuse.NewServer).
func Mount(dir string, m *pintos.Mount, options *gofs.Options) (*fuse.Server, error) {
	root := &node{mount: m, path: "/"}
	return gofs.Mount(dir, root, options)
}
