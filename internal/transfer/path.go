package transfer

import (
	"path/filepath"
	"strings"
)

// joinSyncRoot resolves a sync-root-relative path (always forward-slash
// separated, as stored in local state and exchanged with the server) into
// an absolute filesystem path.
func joinSyncRoot(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(relPath))
}

func toRelPath(root, absPath string) string {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return absPath
	}
	return filepath.ToSlash(rel)
}

func splitExt(relPath string) (stem, ext string) {
	ext = filepath.Ext(relPath)
	stem = strings.TrimSuffix(relPath, ext)
	return stem, ext
}
