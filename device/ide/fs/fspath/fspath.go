// Package fspath implements file path operations.
package fspath

import "github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"

const (
	// MaxLen is the maximum length of a path.
	MaxLen = 512
	// MaxNameLen is the maximum length of a file or directory name.
	MaxNameLen = 16

	// Separator splits path components.
	Separator = '/'

	// RootDirName is the root directory.
	RootDirName = "/"
	// CurrDirName is the current directory.
	CurrDirName = "."
	// ParentDirName is the parent directory.
	ParentDirName = ".."
)

func checkLen(path string) {
	if len(path) > MaxLen {
		kfmt.Panicf("fspath", "the path is longer than %d bytes", MaxLen)
	}
}

// IsRootDir reports whether a path names the root directory.
func IsRootDir(path string) bool {
	checkLen(path)
	return path == RootDirName || path == "/." || path == "/.."
}

// IsDir reports whether a path names a directory: it is empty, the root,
// or ends with a separator.
func IsDir(path string) bool {
	checkLen(path)
	return path == "" || IsRootDir(path) || path[len(path)-1] == Separator
}

// IsAbsolute reports whether a path starts at the root directory.
func IsAbsolute(path string) bool {
	checkLen(path)
	return path != "" && path[0] == Separator
}

// FileName returns the last component of a file path, or "" for
// directories.
//
//	FileName("/") == ""
//	FileName("/a") == "a"
//	FileName("/a/") == ""
func FileName(path string) string {
	if IsDir(path) {
		return ""
	}

	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == Separator {
			return path[i+1:]
		}
	}

	return path
}

// Parse splits the first name off a path, skipping leading separators,
// and returns the name and the remaining path.
func Parse(path string) (name, rest string) {
	checkLen(path)
	i := 0
	for i < len(path) && path[i] == Separator {
		i++
	}

	begin := i
	for i < len(path) && path[i] != Separator {
		i++
	}

	name = path[begin:i]
	if len(name) > MaxNameLen {
		kfmt.Panicf("fspath", "the name '%s' is longer than %d bytes", name, MaxNameLen)
	}

	return name, path[i:]
}

// Visitor receives each name of a path together with the unvisited rest.
// Returning false stops the walk.
type Visitor func(subPath, name string) bool

// Visit walks all names of a path in order and reports whether the walk
// ran to completion.
//
// For "/a/b/c" the visitor sees ("/b/c", "a"), ("/c", "b"), ("", "c").
func Visit(path string, visit Visitor) bool {
	checkLen(path)
	name, rest := Parse(path)
	for name != "" {
		if !visit(rest, name) {
			return false
		}

		name, rest = Parse(rest)
	}

	return true
}

// Depth returns the number of components in a path.
//
//	Depth("/") == 0
//	Depth("/a/b") == 2
func Depth(path string) uint32 {
	depth := uint32(0)
	Visit(path, func(string, string) bool {
		depth++
		return true
	})
	return depth
}

// Join appends a child path to a parent, inserting separators between
// names. The result keeps a leading separator if the parent is empty and
// the child absolute, and a trailing one if the child is a directory.
func Join(parent, child string) string {
	checkLen(parent)
	checkLen(child)

	full := parent
	if full == "" && IsAbsolute(child) {
		full = string(Separator)
	}

	Visit(child, func(_, name string) bool {
		if full != "" && full[len(full)-1] != Separator {
			full += string(Separator)
		}

		full += name
		return true
	})

	if IsDir(child) && full != "" && full[len(full)-1] != Separator {
		full += string(Separator)
	}

	checkLen(full)
	return full
}
