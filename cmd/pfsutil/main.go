package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	pintos "github.com/cchen95/pintOS"
)

const usage = `pfsutil - pintos filesystem CLI tool

Usage:
  pfsutil mkfs <image> <sectors>              Format a new filesystem image
  pfsutil ls <image> [<path>]                 List entries in a directory
  pfsutil cat <image> <file>                  Print a file's contents
  pfsutil info <image>                        Show cache/free-map statistics
  pfsutil export <image> <archive> [-xz|-zstd] Export a compressed snapshot
  pfsutil import <image> <archive>            Import a snapshot into an image
  pfsutil help                                 Show this help message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "mkfs":
		if len(os.Args) < 4 {
			failUsage("missing image path or sector count")
		}
		err = cmdMkfs(os.Args[2], os.Args[3])
	case "ls":
		if len(os.Args) < 3 {
			failUsage("missing image path")
		}
		path := "/"
		if len(os.Args) > 3 {
			path = os.Args[3]
		}
		err = cmdLs(os.Args[2], path)
	case "cat":
		if len(os.Args) < 4 {
			failUsage("missing image path or file")
		}
		err = cmdCat(os.Args[2], os.Args[3])
	case "info":
		if len(os.Args) < 3 {
			failUsage("missing image path")
		}
		err = cmdInfo(os.Args[2])
	case "export":
		if len(os.Args) < 4 {
			failUsage("missing image path or archive path")
		}
		compressor := ""
		if len(os.Args) > 4 {
			switch os.Args[4] {
			case "-xz":
				compressor = "xz"
			case "-zstd":
				compressor = "zstd"
			}
		}
		err = cmdExport(os.Args[2], os.Args[3], compressor)
	case "import":
		if len(os.Args) < 4 {
			failUsage("missing image path or archive path")
		}
		err = cmdImport(os.Args[2], os.Args[3])
	case "help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("Error: unknown command %q\n", os.Args[1])
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func failUsage(msg string) {
	fmt.Printf("Error: %s\n", msg)
	fmt.Println(usage)
	os.Exit(1)
}

func openImage(path string, sectors uint32) (*pintos.FileBlockDevice, error) {
	return pintos.OpenFileBlockDevice(path, sectors, os.O_RDWR)
}

func cmdMkfs(path, sectorsArg string) error {
	n, err := strconv.Atoi(sectorsArg)
	if err != nil {
		return fmt.Errorf("invalid sector count %q: %w", sectorsArg, err)
	}
	dev, err := pintos.OpenFileBlockDevice(path, uint32(n), os.O_RDWR|os.O_CREATE)
	if err != nil {
		return err
	}
	defer dev.Close()

	fsys, err := pintos.Mkfs(dev)
	if err != nil {
		return err
	}
	return fsys.Unmount(context.Background())
}

func openMounted(path string) (*pintos.Filesystem, *pintos.FileBlockDevice, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	sectors := uint32(fi.Size() / pintos.SectorSize)
	dev, err := openImage(path, sectors)
	if err != nil {
		return nil, nil, err
	}
	fsys, err := pintos.Mount(dev)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fsys, dev, nil
}

func cmdLs(path, dirPath string) error {
	fsys, dev, err := openMounted(path)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fsys.Unmount(context.Background())

	ctx := context.Background()
	m := fsys.NewSession()
	names, err := m.Readdir(ctx, dirPath)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func cmdCat(path, filePath string) error {
	fsys, dev, err := openMounted(path)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fsys.Unmount(context.Background())

	ctx := context.Background()
	m := fsys.NewSession()
	f, err := m.Open(ctx, filePath)
	if err != nil {
		return err
	}
	defer m.Close(f)

	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil || n == 0 {
			break
		}
	}
	return nil
}

func cmdInfo(path string) error {
	fsys, dev, err := openMounted(path)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fsys.Unmount(context.Background())

	hits, misses := fsys.CacheStats()
	fmt.Printf("sectors:        %d\n", dev.SectorCount())
	fmt.Printf("free sectors:   %d\n", fsys.FreeSectors())
	fmt.Printf("cache hits:     %d\n", hits)
	fmt.Printf("cache misses:   %d\n", misses)
	fmt.Printf("device reads:   %d\n", fsys.DeviceReadCount())
	fmt.Printf("device writes:  %d\n", fsys.DeviceWriteCount())
	return nil
}

func cmdExport(imagePath, archivePath, compressor string) error {
	fsys, dev, err := openMounted(imagePath)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fsys.Unmount(context.Background())

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx := context.Background()
	m := fsys.NewSession()
	var opts []pintos.ExportOption
	if compressor != "" {
		opts = append(opts, pintos.WithCompressor(compressor))
	}
	return pintos.Export(ctx, m, out, opts...)
}

func cmdImport(imagePath, archivePath string) error {
	fsys, dev, err := openMounted(imagePath)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fsys.Unmount(context.Background())

	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer in.Close()

	ctx := context.Background()
	m := fsys.NewSession()
	return pintos.Import(ctx, m, in)
}
