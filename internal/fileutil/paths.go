package fileutil

import (
	"path/filepath"
	"strconv"
)

// CccopySubdir builds a path to a subdirectory within <root>/.cccopy,
// the per-project control directory holding lock directories.
func CccopySubdir(root, subdir string) string {
	return filepath.Join(root, ".cccopy", subdir)
}

// LockDir returns the directory holding all lock subdirectories for a
// project root: "<root>/.cccopy/lock".
func LockDir(root string) string {
	return CccopySubdir(root, "lock")
}

// HomeSettingsDir returns "<home>/.cccopy/<project_id>", the per-user
// settings directory consumed (not owned) by cccopy.
func HomeSettingsDir(home string, projectID int) string {
	return filepath.Join(home, ".cccopy", strconv.Itoa(projectID))
}
