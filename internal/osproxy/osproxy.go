// Package osproxy narrows the os package to what photo file access needs, so
// file collection and local file sources can run against fakes in tests.
package osproxy

import (
	"io/fs"
	"os"
)

// OsProxy defines the subset of os package functions we proxy.
type OsProxy interface {
	Stat(name string) (os.FileInfo, error)
	Open(name string) (*os.File, error)
	DirFS(dir string) fs.FS
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) } //nolint:revive
func (RealOS) Open(name string) (*os.File, error)    { return os.Open(name) } //nolint:revive
func (RealOS) DirFS(dir string) fs.FS                { return os.DirFS(dir) } //nolint:revive
