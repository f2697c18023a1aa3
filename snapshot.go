package pintos

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	snapshotMagic   = 0x50465342 // "PFSB"
	snapshotVersion = 1
)

const (
	recordFile byte = iota
	recordDir
	recordEndDir
)

// Compressor is the pluggable backend an export/import stream is wrapped in,
// registered by name at build time the same way the teacher's comp_xz.go/
// comp_zstd.go register squashfs block compressors via build tags.
type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var exportCompressors = map[string]Compressor{}

// RegisterExportCompressor makes a named Compressor available to Export/
// Import via WithCompressor. Called from init() in build-tag-gated files.
func RegisterExportCompressor(name string, c Compressor) {
	exportCompressors[name] = c
}

// ExportConfig holds the options assembled by ExportOption closures.
type ExportConfig struct {
	compressor string
}

// ExportOption configures an Export call.
type ExportOption func(*ExportConfig)

// WithCompressor selects a registered Compressor by name ("xz", "zstd").
func WithCompressor(name string) ExportOption {
	return func(c *ExportConfig) { c.compressor = name }
}

// Export walks the live tree from the filesystem root and streams a
// portable backup archive to w: a small uncompressed header naming the
// compressor (if any), then a depth-first sequence of file/directory
// records, passed through that compressor. This is the
// same "build linearly, write a header, stream the body" shape as the
// teacher's Writer.Finalize.
func Export(ctx context.Context, m *Mount, w io.Writer, opts ...ExportOption) error {
	var cfg ExportConfig
	for _, o := range opts {
		o(&cfg)
	}

	// The header stays uncompressed so Import can learn the compressor
	// before it wraps the rest of the stream.
	if err := writeSnapshotHeader(w, cfg.compressor); err != nil {
		return err
	}

	var out io.Writer = w
	var closer io.Closer
	if cfg.compressor != "" {
		c, ok := exportCompressors[cfg.compressor]
		if !ok {
			return fmt.Errorf("pintos: unknown export compressor %q", cfg.compressor)
		}
		cw, err := c.NewWriter(w)
		if err != nil {
			return err
		}
		out, closer = cw, cw
	}

	bw := bufio.NewWriter(out)
	if err := exportChildren(ctx, m, "/", bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if closer != nil {
		return closer.Close()
	}
	return nil
}

func writeSnapshotHeader(w io.Writer, compressor string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(snapshotMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(snapshotVersion)); err != nil {
		return err
	}
	return writeString(w, compressor)
}

func readSnapshotHeader(r io.Reader) (compressor string, err error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return "", err
	}
	if magic != snapshotMagic {
		return "", ErrBadMagic
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return "", err
	}
	if version != snapshotVersion {
		return "", fmt.Errorf("pintos: unsupported snapshot version %d", version)
	}
	return readString(r)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func exportChildren(ctx context.Context, m *Mount, path string, w io.Writer) error {
	names, err := m.Readdir(ctx, path)
	if err != nil {
		return err
	}
	for _, name := range names {
		child := joinPath(path, name)
		isDir, err := m.IsDir(ctx, child)
		if err != nil {
			return err
		}
		if isDir {
			if err := writeRecordTag(w, recordDir, name); err != nil {
				return err
			}
			if err := exportChildren(ctx, m, child, w); err != nil {
				return err
			}
			if err := writeRecordTag(w, recordEndDir, ""); err != nil {
				return err
			}
			continue
		}

		f, err := m.Open(ctx, child)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(f)
		closeErr := m.Close(f)
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}

		if err := writeRecordTag(w, recordFile, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func writeRecordTag(w io.Writer, typ byte, name string) error {
	if _, err := w.Write([]byte{typ}); err != nil {
		return err
	}
	if typ == recordEndDir {
		return nil
	}
	return writeString(w, name)
}

// Import reverses Export, recreating directories and files through m exactly
// as a real client would — a snapshot round-trip exercises the whole façade,
// not just the archive format.
func Import(ctx context.Context, m *Mount, r io.Reader) error {
	br := bufio.NewReader(r)
	compressor, err := readSnapshotHeader(br)
	if err != nil {
		return err
	}

	var in io.Reader = br
	if compressor != "" {
		c, ok := exportCompressors[compressor]
		if !ok {
			return fmt.Errorf("pintos: unknown import compressor %q", compressor)
		}
		rc, err := c.NewReader(br)
		if err != nil {
			return err
		}
		defer rc.Close()
		in = rc
	}

	return importChildren(ctx, m, "/", in)
}

func importChildren(ctx context.Context, m *Mount, path string, r io.Reader) error {
	for {
		var tagBuf [1]byte
		if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		typ := tagBuf[0]
		if typ == recordEndDir {
			return nil
		}

		name, err := readString(r)
		if err != nil {
			return err
		}
		child := joinPath(path, name)

		switch typ {
		case recordDir:
			if err := m.Mkdir(ctx, child); err != nil {
				return err
			}
			if err := importChildren(ctx, m, child, r); err != nil {
				return err
			}
		case recordFile:
			var length uint32
			if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
				return err
			}
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return err
			}
			if err := m.Create(ctx, child, int(length)); err != nil {
				return err
			}
			f, err := m.Open(ctx, child)
			if err != nil {
				return err
			}
			_, werr := f.Write(data)
			cerr := m.Close(f)
			if werr != nil {
				return werr
			}
			if cerr != nil {
				return cerr
			}
		default:
			return fmt.Errorf("pintos: corrupt snapshot: unknown record tag %d", typ)
		}
	}
}
