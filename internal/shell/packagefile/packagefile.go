// Package packagefile reads and rewrites app package files.
//
// A package file is a zip archive containing NavxManifest.xml, optionally
// preceded by a 40 byte header that carries the package id:
//
//	magic "NAVX" | header size uint32 | content length uint64 | package id [16]byte | reserved uint32 | magic "NAVX"
//
// All integers are little endian.
package packagefile

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/artpar/apppublish/internal/core/manifest"
	"github.com/google/uuid"
)

// =============================================================================
// Header
// =============================================================================

// HeaderSize is the size of the package header in bytes.
const HeaderSize = 40

var magic = [4]byte{'N', 'A', 'V', 'X'}

var (
	// ErrBadHeader is returned when a file starts like a package but the header is inconsistent.
	ErrBadHeader = errors.New("bad package header")

	// ErrNoManifest is returned when the archive has no manifest entry.
	ErrNoManifest = errors.New("package has no " + manifest.FileName)
)

// Header is the fixed size header in front of the archive.
type Header struct {
	ContentLength uint64
	PackageID     uuid.UUID
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], HeaderSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.ContentLength)
	copy(buf[16:32], h.PackageID[:])
	copy(buf[36:40], magic[:])
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(buf))
	}
	if !bytes.Equal(buf[36:40], magic[:]) {
		return Header{}, fmt.Errorf("%w: trailing magic missing", ErrBadHeader)
	}
	if size := binary.LittleEndian.Uint32(buf[4:8]); size != HeaderSize {
		return Header{}, fmt.Errorf("%w: header size %d", ErrBadHeader, size)
	}

	var h Header
	h.ContentLength = binary.LittleEndian.Uint64(buf[8:16])
	copy(h.PackageID[:], buf[16:32])
	return h, nil
}

// =============================================================================
// Reading
// =============================================================================

// archive is an opened package file.
type archive struct {
	file     *os.File
	header   *Header // nil for a bare zip
	zip      *zip.Reader
	manifest *manifest.Manifest
	entry    *zip.File
}

func (a *archive) Close() error {
	return a.file.Close()
}

func open(path string) (*archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	a, err := load(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func load(f *os.File) (*archive, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	lead := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, lead)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	lead = lead[:n]

	a := &archive{file: f}
	offset, size := int64(0), info.Size()

	if bytes.HasPrefix(lead, magic[:]) {
		h, err := parseHeader(lead)
		if err != nil {
			return nil, err
		}
		offset = HeaderSize
		size -= HeaderSize
		if h.ContentLength != 0 && int64(h.ContentLength) <= size {
			size = int64(h.ContentLength)
		}
		a.header = &h
	}

	zr, err := zip.NewReader(io.NewSectionReader(f, offset, size), size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a.zip = zr

	for _, zf := range zr.File {
		if strings.EqualFold(strings.TrimPrefix(zf.Name, "/"), manifest.FileName) {
			a.entry = zf
			break
		}
	}
	if a.entry == nil {
		return nil, ErrNoManifest
	}

	data, err := readEntry(a.entry)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifest.FileName, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	a.manifest = m
	return a, nil
}

func readEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *archive) describe(path string) (domain.Package, error) {
	id, err := a.manifest.Identity()
	if err != nil {
		return domain.Package{}, err
	}
	deps, err := a.manifest.DependencyList()
	if err != nil {
		return domain.Package{}, err
	}

	pkg := domain.Package{
		Identity:     id,
		Dependencies: deps,
		ShowMyCode:   a.manifest.ShowMyCode(),
		Path:         path,
	}
	if a.header != nil {
		pkg.PackageID = a.header.PackageID.String()
	}
	return pkg, nil
}

// Read reads the identity and dependencies of the package at path.
// Any failure wraps domain.ErrInvalidPackage and names the file.
func Read(path string) (domain.Package, error) {
	a, err := open(path)
	if err != nil {
		return domain.Package{}, invalid(path, err)
	}
	defer a.Close()

	pkg, err := a.describe(path)
	if err != nil {
		return domain.Package{}, invalid(path, err)
	}
	return pkg, nil
}

// ReadAll reads every package. The first unreadable file fails the whole
// batch and nothing is returned.
func ReadAll(paths []string) ([]domain.Package, error) {
	pkgs := make([]domain.Package, 0, len(paths))
	for _, p := range paths {
		pkg, err := Read(p)
		if err != nil {
			return nil, domain.NewPublishError(domain.StageSort, filepath.Base(p), "read package", err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func invalid(path string, err error) error {
	return fmt.Errorf("%w %s: %v", domain.ErrInvalidPackage, filepath.Base(path), err)
}

// =============================================================================
// Writing
// =============================================================================

// Rewritten describes the outcome of Rewrite.
type Rewritten struct {
	Package           domain.Package
	Changes           manifest.Changes
	PackageIDReplaced bool
}

// Modified reports whether the file on disk was replaced.
func (r Rewritten) Modified() bool {
	return r.PackageIDReplaced || r.Changes.Any()
}

// Rewrite applies the requested pre-processing to the package at path.
//
// The new package is written to a temporary file next to path and renamed
// over it, so path is either fully rewritten or left as it was. Callers only
// pass staged copies, never caller owned sources.
func Rewrite(path string, p domain.Preprocessing) (Rewritten, error) {
	a, err := open(path)
	if err != nil {
		return Rewritten{}, invalid(path, err)
	}
	defer a.Close()

	changes, err := manifest.Apply(a.manifest, p)
	if err != nil {
		return Rewritten{}, err
	}
	out := Rewritten{Changes: changes}

	header := a.header
	if p.ReplacePackageID {
		h := Header{PackageID: uuid.New()}
		header = &h
		out.PackageIDReplaced = true
	}

	if out.Modified() {
		data, err := a.manifest.Marshal()
		if err != nil {
			return Rewritten{}, err
		}
		if err := replaceFile(path, func(f *os.File) error {
			return writeArchive(f, header, func(zw *zip.Writer) error {
				for _, zf := range a.zip.File {
					if zf == a.entry {
						if err := writeEntry(zw, zf.Name, data); err != nil {
							return err
						}
						continue
					}
					if err := zw.Copy(zf); err != nil {
						return fmt.Errorf("copy %s: %w", zf.Name, err)
					}
				}
				return nil
			})
		}); err != nil {
			return Rewritten{}, fmt.Errorf("rewrite %s: %w", filepath.Base(path), err)
		}
	}

	pkg, err := a.describe(path)
	if err != nil {
		return Rewritten{}, invalid(path, err)
	}
	if header != nil {
		pkg.PackageID = header.PackageID.String()
	}
	out.Package = pkg
	return out, nil
}

// Create writes a new package file with the given manifest and extra entries.
// A zero packageID writes a bare zip without a header.
func Create(path string, packageID uuid.UUID, manifestXML []byte, files map[string][]byte) error {
	var header *Header
	if packageID != uuid.Nil {
		header = &Header{PackageID: packageID}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	err = writeArchive(f, header, func(zw *zip.Writer) error {
		if err := writeEntry(zw, manifest.FileName, manifestXML); err != nil {
			return err
		}
		for name, content := range files {
			if err := writeEntry(zw, name, content); err != nil {
				return err
			}
		}
		return nil
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// writeArchive writes an optional header followed by a zip built by fill.
// The header's content length is patched in once the archive size is known.
func writeArchive(f *os.File, header *Header, fill func(zw *zip.Writer) error) error {
	if header != nil {
		if _, err := f.Write(header.marshal()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	zw := zip.NewWriter(f)
	if err := fill(zw); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if header == nil {
		return nil
	}
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	h := *header
	h.ContentLength = uint64(end - HeaderSize)
	if _, err := f.WriteAt(h.marshal(), 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// replaceFile writes a temporary file next to path with write and renames it
// over path. The temporary file is removed on failure.
func replaceFile(path string, write func(f *os.File) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
