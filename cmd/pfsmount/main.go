//go:build fuse

package main

import (
	"context"
	"fmt"
	"os"

	pintos "github.com/cchen95/pintOS"
	pfuse "github.com/cchen95/pintOS/fuse"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: pfsmount <image> <mountpoint>")
		os.Exit(1)
	}
	imagePath, mountpoint := os.Args[1], os.Args[2]

	fi, err := os.Stat(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	sectors := uint32(fi.Size() / pintos.SectorSize)

	dev, err := pintos.OpenFileBlockDevice(imagePath, sectors, os.O_RDWR)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	fsys, err := pintos.Mount(dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer fsys.Unmount(context.Background())

	m := fsys.NewSession()
	server, err := pfuse.Mount(mountpoint, m, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	server.Wait()
}
