package dist

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// writeBinaryPackage writes the pre-built installable package: a zip of the
// same selected file set plus the METADATA entry at the root. Entry order and
// timestamps are normalized the same way as the source archive.
func writeBinaryPackage(treeDir string, files []string, generated map[string][]byte, outPath string, mtime time.Time) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create package %s: %w", outPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	names := append([]string{}, files...)
	for name := range generated {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.Modified = mtime.UTC()
		hdr.SetMode(0o644)
		if data, ok := generated[name]; ok {
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			continue
		}
		src := filepath.Join(treeDir, filepath.FromSlash(name))
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if info.Mode()&0o111 != 0 {
			hdr.SetMode(0o755)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if err := copyFileInto(w, src); err != nil {
			return fmt.Errorf("failed to package %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ListPackage returns the file entries of a binary package, sorted.
func ListPackage(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package %s: %w", path, err)
	}
	defer zr.Close()

	var names []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		names = append(names, zf.Name)
	}
	sort.Strings(names)
	return names, nil
}

// ReadPackageMetadata extracts and parses the METADATA entry of a package.
func ReadPackageMetadata(path string) (Metadata, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to open package %s: %w", path, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.Name != MetadataFileName {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return Metadata{}, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return Metadata{}, err
		}
		return ParseMetadata(data)
	}
	return Metadata{}, fmt.Errorf("package %s has no %s entry", path, MetadataFileName)
}
