package verify

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/dist"
)

// InstallError is an install-check failure in any install mode.
type InstallError struct {
	Mode string // archive|binary|remote|pr-script
	Err  error
}

func (e *InstallError) Error() string { return fmt.Sprintf("install-from-%s check failed: %v", e.Mode, e.Err) }
func (e *InstallError) Unwrap() error { return e.Err }

// InstallFromArchive extracts the source archive into a clean environment,
// stripping the top-level directory, and returns the installed version
// string. An empty or unreadable version fails the check.
func InstallFromArchive(archivePath, envDir string) (string, error) {
	if err := extractArchive(archivePath, envDir); err != nil {
		return "", &InstallError{Mode: "archive", Err: err}
	}
	v, err := installedVersion(envDir)
	if err != nil {
		return "", &InstallError{Mode: "archive", Err: err}
	}
	return v, nil
}

// InstallFromPackage extracts the binary package into the environment. With
// force set the content is installed twice, the second pass overwriting the
// first, guarding against stale-state false passes.
func InstallFromPackage(packagePath, envDir string, force bool) (string, error) {
	passes := 1
	if force {
		passes = 2
	}
	for i := 0; i < passes; i++ {
		if err := extractPackage(packagePath, envDir); err != nil {
			return "", &InstallError{Mode: "binary", Err: err}
		}
	}
	v, err := installedVersion(envDir)
	if err != nil {
		return "", &InstallError{Mode: "binary", Err: err}
	}
	return v, nil
}

// installedVersion reads the VERSION marker of an installed tree.
func installedVersion(envDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(envDir, dist.VersionFileName))
	if err != nil {
		return "", fmt.Errorf("installed tree has no readable %s: %w", dist.VersionFileName, err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("installed %s is empty", dist.VersionFileName)
	}
	return v, nil
}

// safeJoin joins name under root, rejecting absolute and traversal paths.
func safeJoin(root, name string) (string, error) {
	if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return "", fmt.Errorf("unsafe entry path %q", name)
	}
	return filepath.Join(root, filepath.FromSlash(name)), nil
}

func extractArchive(archivePath, envDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		// Drop the <name>-<version>/ prefix.
		_, rest, ok := strings.Cut(hdr.Name, "/")
		if !ok || rest == "" {
			continue
		}
		dst, err := safeJoin(envDir, rest)
		if err != nil {
			return err
		}
		if err := writeEntry(dst, tr, hdr.FileInfo().Mode()); err != nil {
			return err
		}
	}
}

func extractPackage(packagePath, envDir string) error {
	zr, err := zip.OpenReader(packagePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		dst, err := safeJoin(envDir, zf.Name)
		if err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		werr := writeEntry(dst, rc, zf.FileInfo().Mode())
		rc.Close()
		if werr != nil {
			return werr
		}
	}
	return nil
}

func writeEntry(dst string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
