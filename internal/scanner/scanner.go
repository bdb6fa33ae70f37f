// Package scanner feeds the context assembler's project-shaped sections:
// the export map, knowledge gaps, file verification, and the architecture
// digest. The interface is the contract; the filesystem implementation is a
// deliberately light line scanner, not a full parser.
package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ProjectScanner is what the assembler consumes.
type ProjectScanner interface {
	// ExportMap returns exported symbol names per source directory.
	ExportMap(root string) (map[string][]string, error)

	// SourceDirs lists directories containing source files.
	SourceDirs(root string) ([]string, error)

	// VerifyFiles checks that each path exists under root.
	VerifyFiles(root string, paths []string) map[string]bool

	// Architecture summarizes layer structure and entry/leaf directories.
	Architecture(root string) (*Architecture, error)
}

// Architecture is the digest the assembler renders in its final section.
type Architecture struct {
	Layers     map[string][]string // layer name -> directories
	EntryDirs  []string            // cmd/ style entry points
	LeafDirs   []string            // dirs named util, utils, textutil, or types
	FileCount  int
	SourceDirs int
}

// FSScanner walks the real filesystem.
type FSScanner struct {
	// MaxFiles caps the walk so a huge monorepo cannot stall force_recall.
	MaxFiles int
}

// NewFSScanner returns a scanner with the default file cap.
func NewFSScanner() *FSScanner {
	return &FSScanner{MaxFiles: 5000}
}

var sourceExts = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true,
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, ".ai": true, "__pycache__": true, "target": true,
}

var exportPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^func ([A-Z][A-Za-z0-9_]*)\(`),
	regexp.MustCompile(`^func \([^)]+\) ([A-Z][A-Za-z0-9_]*)\(`),
	regexp.MustCompile(`^type ([A-Z][A-Za-z0-9_]*) `),
	regexp.MustCompile(`^export (?:async )?function ([A-Za-z0-9_]+)`),
	regexp.MustCompile(`^export (?:const|class|interface|type) ([A-Za-z0-9_]+)`),
	regexp.MustCompile(`^def ([a-zA-Z0-9_]+)\(`),
	regexp.MustCompile(`^pub fn ([a-z_][a-z0-9_]*)`),
}

// ExportMap walks root and collects exported symbols per directory.
func (f *FSScanner) ExportMap(root string) (map[string][]string, error) {
	out := make(map[string][]string)
	err := f.walkSources(root, func(path string) error {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		dir := filepath.Dir(rel)
		symbols, err := extractExports(path)
		if err != nil {
			return nil // unreadable file: skip, never fail the scan
		}
		out[dir] = append(out[dir], symbols...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for dir := range out {
		sort.Strings(out[dir])
		out[dir] = dedupeSorted(out[dir])
	}
	return out, nil
}

// SourceDirs lists every directory under root containing source files.
func (f *FSScanner) SourceDirs(root string) ([]string, error) {
	set := make(map[string]struct{})
	err := f.walkSources(root, func(path string) error {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		set[filepath.Dir(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(set))
	for d := range set {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// VerifyFiles reports existence for each path relative to root.
func (f *FSScanner) VerifyFiles(root string, paths []string) map[string]bool {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		_, err := os.Stat(filepath.Join(root, p))
		out[p] = err == nil
	}
	return out
}

// Architecture buckets source directories into conventional layers and
// flags entry points.
func (f *FSScanner) Architecture(root string) (*Architecture, error) {
	dirs, err := f.SourceDirs(root)
	if err != nil {
		return nil, err
	}

	arch := &Architecture{
		Layers:     make(map[string][]string),
		SourceDirs: len(dirs),
	}
	for _, d := range dirs {
		top := strings.Split(filepath.ToSlash(d), "/")[0]
		switch top {
		case "cmd", "main", "app":
			arch.Layers["entry"] = append(arch.Layers["entry"], d)
			arch.EntryDirs = append(arch.EntryDirs, d)
		case "internal", "lib", "src":
			arch.Layers["core"] = append(arch.Layers["core"], d)
		case "pkg", "api", "public":
			arch.Layers["api"] = append(arch.Layers["api"], d)
		default:
			arch.Layers["other"] = append(arch.Layers["other"], d)
		}
	}

	// Leaf detection is name-based: conventional utility dirs with no
	// project-internal imports expected.
	for _, d := range dirs {
		base := filepath.Base(d)
		if base == "util" || base == "utils" || base == "textutil" || base == "types" {
			arch.LeafDirs = append(arch.LeafDirs, d)
		}
	}

	err = f.walkSources(root, func(string) error {
		arch.FileCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return arch, nil
}

func (f *FSScanner) walkSources(root string, fn func(path string) error) error {
	count := 0
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // permission errors skip silently
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExts[filepath.Ext(path)] {
			return nil
		}
		count++
		if f.MaxFiles > 0 && count > f.MaxFiles {
			return filepath.SkipAll
		}
		return fn(path)
	})
}

func extractExports(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var symbols []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := sc.Text()
		for _, re := range exportPatterns {
			if m := re.FindStringSubmatch(line); m != nil {
				symbols = append(symbols, m[1])
				break
			}
		}
	}
	return symbols, sc.Err()
}

func dedupeSorted(s []string) []string {
	out := s[:0]
	var prev string
	for i, v := range s {
		if i == 0 || v != prev {
			out = append(out, v)
		}
		prev = v
	}
	return out
}
