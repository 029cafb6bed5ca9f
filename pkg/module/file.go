package module

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
)

const (
	// SourceExt is the extension of Starlark module files.
	SourceExt = ".star"

	// PackageInit is the file that turns a directory into a package.
	PackageInit = "__init__" + SourceExt
)

// FileFinder finds Starlark modules in a file system.
//
// The module a.b is searched for as a/b.star and as the package a/b/__init__.star
// below each search root. Submodules of a package are searched in the package
// directory only.
type FileFinder struct {
	fsys   fs.FS
	roots  []string
	prefix string
}

// FileFinderOption configures a FileFinder.
type FileFinderOption func(*FileFinder)

// WithDisplayPrefix sets the directory reported in origins and filenames,
// typically the on-disk directory fsys was opened at.
func WithDisplayPrefix(dir string) FileFinderOption {
	return func(f *FileFinder) {
		f.prefix = dir
	}
}

// NewFileFinder creates a finder searching roots (slash-separated, relative to fsys).
// With no roots the file system root "." is searched.
func NewFileFinder(fsys fs.FS, roots []string, opts ...FileFinderOption) *FileFinder {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	f := &FileFinder{fsys: fsys, roots: roots}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewDirFinder creates a finder for an on-disk directory.
func NewDirFinder(dir string) *FileFinder {
	return NewFileFinder(os.DirFS(dir), nil, WithDisplayPrefix(dir))
}

// FindSpec implements Finder.
func (f *FileFinder) FindSpec(_ context.Context, name string, searchPath []string, _ *Module) (*Spec, error) {
	if !ValidName(name) {
		return nil, nil
	}
	dirs := f.roots
	if searchPath != nil {
		dirs = f.localDirs(searchPath)
	}
	_, last := splitName(name)

	for _, dir := range dirs {
		pkgDir := path.Join(dir, last)
		initFile := path.Join(pkgDir, PackageInit)
		if isFile(f.fsys, initFile) {
			return &Spec{
				Name:                     name,
				Origin:                   f.display(initFile),
				Loader:                   &SourceFileLoader{fsys: f.fsys, file: initFile, display: f.display(initFile), pkg: true},
				SubmoduleSearchLocations: []string{f.display(pkgDir)},
			}, nil
		}
		file := path.Join(dir, last+SourceExt)
		if isFile(f.fsys, file) {
			return &Spec{
				Name:   name,
				Origin: f.display(file),
				Loader: &SourceFileLoader{fsys: f.fsys, file: file, display: f.display(file)},
			}, nil
		}
	}
	return nil, nil
}

// localDirs keeps the search path entries that belong to this finder and
// converts them back to fsys-relative paths.
func (f *FileFinder) localDirs(searchPath []string) []string {
	var dirs []string
	for _, entry := range searchPath {
		if f.prefix == "" {
			dirs = append(dirs, entry)
			continue
		}
		rel, err := filepath.Rel(f.prefix, entry)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		dirs = append(dirs, filepath.ToSlash(rel))
	}
	return dirs
}

func (f *FileFinder) display(p string) string {
	if f.prefix == "" {
		return p
	}
	return filepath.Join(f.prefix, filepath.FromSlash(p))
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

// SourceFileLoader loads a module from a Starlark source file without any
// rewriting.
type SourceFileLoader struct {
	fsys    fs.FS
	file    string
	display string
	pkg     bool
}

// CreateModule implements Loader.
func (l *SourceFileLoader) CreateModule(*Spec) (*Module, error) { return nil, nil }

// ExecModule parses, compiles and runs the file.
func (l *SourceFileLoader) ExecModule(ctx context.Context, mod *Module) error {
	src, err := l.GetSource(mod.Name)
	if err != nil {
		return err
	}
	f, err := FileOptionsFrom(ctx).Parse(l.display, src, 0)
	if err != nil {
		return err
	}
	prog, err := starlark.FileProgram(f, PredeclaredFrom(ctx).Has)
	if err != nil {
		return err
	}
	return ExecProgram(ctx, prog, mod)
}

// GetSource implements SourceLoader.
func (l *SourceFileLoader) GetSource(string) (string, error) {
	data, err := fs.ReadFile(l.fsys, l.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoSource, l.display)
		}
		return "", err
	}
	return string(data), nil
}

// GetFilename implements SourceLoader.
func (l *SourceFileLoader) GetFilename(string) (string, error) { return l.display, nil }

// IsPackage implements SourceLoader.
func (l *SourceFileLoader) IsPackage(string) (bool, error) { return l.pkg, nil }
