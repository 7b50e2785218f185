package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/plugin_publish/publish/exec"
)

// ErrUnsafePath is returned for archive entries that would
// land outside the target directory.
var ErrUnsafePath = errors.New("archive entry escapes target")

// Export writes the tracked content of commitHash, as seen
// from sourceRepo, into targetDir. Existing entries of
// targetDir that also exist in the snapshot are replaced.
func Export(
	ctx context.Context,
	commitHash string,
	targetDir string,
	sourceRepo string,
) (retErr error) {
	const errCtx = "exporting snapshot"

	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf(
			"%s: create target: %w", errCtx, err,
		)
	}

	parent := filepath.Dir(targetDir)

	archive, err := os.CreateTemp(parent, ".git-archive-*.tar")
	if err != nil {
		return fmt.Errorf(
			"%s: create archive file: %w", errCtx, err,
		)
	}

	archivePath := archive.Name()

	defer func() {
		if rmErr := os.Remove(archivePath); rmErr != nil &&
			!errors.Is(rmErr, os.ErrNotExist) && retErr == nil {
			retErr = fmt.Errorf(
				"%s: remove archive: %w", errCtx, rmErr,
			)
		}
	}()

	if err := archive.Close(); err != nil {
		return fmt.Errorf(
			"%s: close archive file: %w", errCtx, err,
		)
	}

	if _, err := exec.Ex(
		ctx, sourceRepo, "git",
		"archive", "--format=tar",
		"-o", archivePath,
		commitHash,
	); err != nil {
		return fmt.Errorf(
			"%s: archive %s: %w", errCtx, commitHash, err,
		)
	}

	staging, err := os.MkdirTemp(parent, ".export-*")
	if err != nil {
		return fmt.Errorf(
			"%s: create staging dir: %w", errCtx, err,
		)
	}

	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil &&
			retErr == nil {
			retErr = fmt.Errorf(
				"%s: remove staging dir: %w", errCtx, rmErr,
			)
		}
	}()

	if err := extract(archivePath, staging); err != nil {
		return fmt.Errorf(
			"%s: extract %s: %w", errCtx, commitHash, err,
		)
	}

	if err := moveEntries(staging, targetDir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// extract unpacks the tarball at archivePath into dir.
func extract(archivePath string, dir string) (retErr error) {
	fi, err := os.Open(archivePath) //nolint:gosec // path created by Export
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		if closeErr := fi.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("close archive: %w", closeErr)
		}
	}()

	links := make(map[string]struct{})
	tr := tar.NewReader(fi)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := filepath.FromSlash(
			strings.TrimSuffix(hdr.Name, "/"),
		)
		if !filepath.IsLocal(name) || underLink(name, links) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}

		dst := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o750); err != nil {
				return fmt.Errorf("mkdir %s: %w", name, err)
			}

		case tar.TypeReg:
			if err := writeFile(
				dst, tr, hdr.FileInfo().Mode().Perm(),
			); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(
				filepath.Dir(dst), 0o750,
			); err != nil {
				return fmt.Errorf("mkdir %s: %w", name, err)
			}

			if err := os.Symlink(hdr.Linkname, dst); err != nil {
				return fmt.Errorf("symlink %s: %w", name, err)
			}

			links[name] = struct{}{}

		default:
			// Submodule entries and other special types
			// carry no content in git archives.
			continue
		}
	}
}

// underLink reports whether name lives below an already
// extracted symlink.
func underLink(name string, links map[string]struct{}) bool {
	for dir := filepath.Dir(name); dir != "."; dir = filepath.Dir(dir) {
		if _, ok := links[dir]; ok {
			return true
		}
	}

	return false
}

func writeFile(
	path string,
	r io.Reader,
	mode os.FileMode,
) (retErr error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	//nolint:gosec // path validated by extract
	out, err := os.OpenFile(
		path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode,
	)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // trusted local archive
		return err
	}

	return nil
}

// moveEntries moves every top-level entry of src into dst,
// replacing entries that already exist there.
func moveEntries(src string, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}

	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		if err := os.RemoveAll(to); err != nil {
			return fmt.Errorf("replace %s: %w", e.Name(), err)
		}

		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %s: %w", e.Name(), err)
		}
	}

	return nil
}
