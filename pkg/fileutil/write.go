package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic replaces filePath with content in one step. Readers see
// either the old file or the complete new one, never a partial write.
func WriteFileAtomic(filePath string, content []byte, perm os.FileMode) error {
	pending, err := renameio.NewPendingFile(filePath, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("failed to create pending file for %s: %w", filePath, err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(content); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", filePath, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace file %s: %w", filePath, err)
	}
	return nil
}

// ErrExist is returned by WriteFileExclusive when filePath is already there.
var ErrExist = errors.New("fileutil: file already exists")

// WriteFileExclusive creates filePath with content unless it already exists.
// The content is fully written to a temp file and then hard-linked into
// place, so of several concurrent callers exactly one succeeds and readers
// never see a partial file.
func WriteFileExclusive(filePath string, content []byte, perm os.FileMode) error {
	pending, err := renameio.NewPendingFile(filePath,
		renameio.WithPermissions(perm),
		renameio.WithTempDir(filepath.Dir(filePath)),
	)
	if err != nil {
		return fmt.Errorf("failed to create pending file for %s: %w", filePath, err)
	}
	// 临时文件名总会被删掉，链接过去的目标不受影响
	defer pending.Cleanup()

	if _, err := pending.Write(content); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", filePath, err)
	}
	if err := pending.Sync(); err != nil {
		return fmt.Errorf("failed to sync file %s: %w", filePath, err)
	}
	if err := os.Link(pending.Name(), filePath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExist
		}
		return fmt.Errorf("failed to link file %s: %w", filePath, err)
	}
	return nil
}
