package orchestrator

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"uploadengine/internal/store"
)

// scanSource walks sourceFolder and returns a (relative_path, mtime, size)
// tuple for every included regular file: included iff it is a regular file
// and, when pattern is non-empty, its source-relative (forward-slash) path
// matches the glob. Symbolic links are followed only
// if they resolve to a regular file within the source subtree; cycles and
// out-of-tree targets are skipped. The WalkDir structure generalizes a
// fixed ".mp4 under Movies/" filter into an arbitrary caller-supplied
// glob, matched with stdlib filepath.Match the way a robot-data uploader
// reference matches its allow/exclude patterns — no third-party glob
// library is warranted for a single Match call per file.
func scanSource(sourceFolder, pattern string) ([]store.FileStat, error) {
	rootAbs, err := filepath.Abs(sourceFolder)
	if err != nil {
		return nil, err
	}
	rootInfo, err := os.Stat(rootAbs)
	if err != nil {
		return nil, err
	}
	if !rootInfo.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: rootAbs, Err: fs.ErrInvalid}
	}

	var out []store.FileStat

	walkErr := filepath.WalkDir(rootAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip it rather than failing the whole scan.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, isRegular, ok := resolveEntry(rootAbs, path, d)
		if !ok || !isRegular {
			return nil
		}

		rel, err := filepath.Rel(rootAbs, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if pattern != "" {
			matched, err := filepath.Match(pattern, rel)
			if err != nil || !matched {
				return nil
			}
		}

		out = append(out, store.FileStat{
			Path:  rel,
			MTime: info.ModTime(),
			Size:  info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return out, nil
}

// resolveEntry reports the fs.FileInfo and whether the walked entry is (or
// resolves to) a regular file inside root. A symlink is followed exactly
// once via filepath.EvalSymlinks, which itself fails on a cycle — treated
// here as "not usable" rather than propagated as a scan error.
func resolveEntry(root, path string, d fs.DirEntry) (fs.FileInfo, bool, bool) {
	if d.Type()&fs.ModeSymlink == 0 {
		info, err := d.Info()
		if err != nil {
			return nil, false, false
		}
		return info, info.Mode().IsRegular(), true
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, false, false
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return nil, false, false
	}
	if !withinTree(root, targetAbs) {
		return nil, false, false
	}

	info, err := os.Stat(targetAbs)
	if err != nil {
		return nil, false, false
	}
	return info, info.Mode().IsRegular(), true
}

func withinTree(root, target string) bool {
	rootClean := filepath.Clean(root)
	targetClean := filepath.Clean(target)
	if targetClean == rootClean {
		return true
	}
	return strings.HasPrefix(targetClean, rootClean+string(filepath.Separator))
}
