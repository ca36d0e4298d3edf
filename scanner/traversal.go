package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
)

type walker interface {
	Walk(ctx context.Context, startPath string, fn fs.WalkDirFunc) error
}

// fastWalker visits entries depth first with an explicit stack. It never
// descends through a symbolic link, junction or other reparse directory, so
// link cycles cannot trap it and linked trees are not scanned twice. The
// link itself is still passed to fn.
type fastWalker struct{}

func (w fastWalker) Walk(ctx context.Context, startPath string, fn fs.WalkDirFunc) error {
	info, err := os.Stat(startPath)
	if err != nil {
		return fn(startPath, nil, err)
	}
	root := fs.FileInfoToDirEntry(info)
	type item struct {
		path  string
		entry fs.DirEntry
	}
	stack := []item{{path: startPath, entry: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(current.path, current.entry, nil); err != nil {
			if err == fs.SkipDir {
				continue
			}
			return err
		}
		if !descend(current.entry) {
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			if ferr := fn(current.path, current.entry, err); ferr != nil && ferr != fs.SkipDir {
				return ferr
			}
			continue
		}
		for i := len(entries) - 1; i >= 0; i-- {
			stack = append(stack, item{
				path:  filepath.Join(current.path, entries[i].Name()),
				entry: entries[i],
			})
		}
	}
	return nil
}

func descend(d fs.DirEntry) bool {
	return d.IsDir() && d.Type()&(fs.ModeSymlink|fs.ModeIrregular) == 0
}

func selectWalker() walker {
	return fastWalker{}
}
