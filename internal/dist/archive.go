package dist

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// writeSourceArchive writes a gzip-compressed tar of the selected files, each
// entry placed under the prefix directory. Entry order, modes and timestamps
// are normalized so an unchanged tree yields byte-identical output; mtime is
// the commit timestamp, never the wall clock.
func writeSourceArchive(treeDir string, files []string, generated map[string][]byte, prefix, outPath string, mtime time.Time) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", outPath, err)
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		return err
	}
	// gzip embeds no name or mtime so output depends only on content.
	gz.ModTime = time.Time{}
	tw := tar.NewWriter(gz)

	names := append([]string{}, files...)
	for name := range generated {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hdr := &tar.Header{
			Name:    prefix + "/" + name,
			Mode:    0o644,
			ModTime: mtime.UTC(),
			Format:  tar.FormatPAX,
		}
		if data, ok := generated[name]; ok {
			hdr.Size = int64(len(data))
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if _, err := tw.Write(data); err != nil {
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
			hdr.Mode = 0o755
		}
		hdr.Size = info.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if err := copyFileInto(tw, src); err != nil {
			return fmt.Errorf("failed to archive %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

func copyFileInto(w io.Writer, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// ListArchive returns the file entries of a source archive, sorted.
func ListArchive(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archive %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// StripArchivePrefix removes the single top-level directory component from
// archive entry names, yielding paths comparable with package entries.
func StripArchivePrefix(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, rest, ok := strings.Cut(e, "/"); ok {
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out
}
