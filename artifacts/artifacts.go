// Package artifacts stores uploaded mod archives and describes their content.
// The catalog only ever records the returned descriptor.
package artifacts

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"modcatalog/db"
)

// Descriptor is what storing an archive yields.
type Descriptor struct {
	Content   db.ContentDescriptor
	SizeBytes int64
}

// Storer keeps archive bytes somewhere and describes them.
type Storer interface {
	StoreArchive(ctx context.Context, archive io.Reader) (Descriptor, error)
}

// FSStore keeps archives in a directory, named by their sha256.
type FSStore struct {
	Dir string
	Log *zap.SugaredLogger
}

// StoreArchive copies archive into Dir while hashing it, then hashes every
// entry when the archive is a zip (jar files included). Non-zip archives get
// an archive hash only.
func (s *FSStore) StoreArchive(ctx context.Context, archive io.Reader) (Descriptor, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return Descriptor{}, fmt.Errorf("failed to create artifact directory '%s': %w", s.Dir, err)
	}

	tmp, err := os.CreateTemp(s.Dir, "upload-*")
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to create upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), archive)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}

	archiveHash := hex.EncodeToString(hash.Sum(nil))
	finalPath := filepath.Join(s.Dir, archiveHash)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Descriptor{}, fmt.Errorf("failed to move upload into place: %w", err)
	}

	files, err := hashEntries(finalPath, size)
	if err != nil {
		if s.Log != nil {
			s.Log.Debugw("Archive is not a readable zip, recording archive hash only",
				zap.String("archive_hash", archiveHash), zap.Error(err))
		}
		files = nil
	}

	return Descriptor{
		Content:   db.ContentDescriptor{ArchiveHash: archiveHash, FileHashes: files},
		SizeBytes: size,
	}, nil
}

func hashEntries(path string, size int64) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(zr.File))
	byName := make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		names = append(names, zf.Name)
		byName[zf.Name] = zf
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		sum, err := hashEntry(byName[name])
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", name, err)
		}
		out[name] = sum
	}
	return out, nil
}

func hashEntry(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
