package bucket

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/storage/pathfinder"
	"github.com/xtxerr/metricstore/internal/storage/types"
)

const dirPerm = 0755

// Cleanup steps that run after a publishing rename. Tests replace them to
// exercise the failure paths.
var (
	remove    = os.Remove
	removeAll = os.RemoveAll
	rename    = os.Rename
)

// isRegularFile reports whether path exists and is a regular file.
func isRegularFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errors.NewStorageError("stat", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// isDir reports whether path exists and is a directory.
func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errors.NewStorageError("stat", path, err)
	}
	return info.IsDir(), nil
}

// dayState inspects both representations of a day.
func dayState(pf pathfinder.PathFinder) (types.DayState, error) {
	archive, err := isRegularFile(pf.DayFilePath())
	if err != nil {
		return types.DayAbsent, err
	}
	dir, err := isDir(pf.DayDirectoryPath())
	if err != nil {
		return types.DayAbsent, err
	}
	return types.StateOf(archive, dir), nil
}

// resetDir leaves an empty directory at path, clearing stale content.
func resetDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return errors.NewStorageError("clear directory", path, err)
	}
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return errors.NewStorageError("mkdir", path, err)
	}
	return nil
}

// discardDir removes dir. It first moves dir onto staging so that a failed
// recursive delete leaves only staging debris behind.
func discardDir(dir, staging string) error {
	if err := removeAll(staging); err == nil {
		if err := rename(dir, staging); err == nil {
			dir = staging
		}
	}
	if err := removeAll(dir); err != nil {
		return errors.NewCleanup("remove directory", dir, err)
	}
	return nil
}

// slotFiles returns the names of the regular files inside a day directory.
// A missing directory yields an empty set.
func slotFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, errors.NewStorageError("list directory", dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names[e.Name()] = true
		}
	}
	return names, nil
}

// listDays walks root/YYYY/MM and returns every day that has an archive or a
// day directory, ascending. Staging paths are skipped.
func listDays(data types.BucketData) ([]pathfinder.PathFinder, error) {
	years, err := readDirNames(data.Root)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]pathfinder.PathFinder)
	for _, y := range years {
		months, err := readDirNames(filepath.Join(data.Root, y))
		if err != nil {
			return nil, err
		}
		for _, m := range months {
			monthDir := filepath.Join(data.Root, y, m)
			entries, err := os.ReadDir(monthDir)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, errors.NewStorageError("list directory", monthDir, err)
			}
			for _, e := range entries {
				name := e.Name()
				if !e.IsDir() {
					if !strings.HasSuffix(name, data.Extension) {
						continue
					}
					name = strings.TrimSuffix(name, data.Extension)
				}
				pf, ok := pathfinder.ParseDay(data, y, m, name)
				if !ok {
					continue
				}
				seen[pf.DayDirectoryPath()] = pf
			}
		}
	}

	days := make([]pathfinder.PathFinder, 0, len(seen))
	for _, pf := range seen {
		days = append(days, pf)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Day().Before(days[j].Day())
	})
	return days, nil
}

// readDirNames lists the sub-directory names of dir. A missing dir is empty.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.NewStorageError("list directory", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// diskUsage sums the sizes of the regular files below path.
func diskUsage(path string) (files int, bytes int64, err error) {
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, errors.NewStorageError("walk", path, err)
	}
	return files, bytes, nil
}
