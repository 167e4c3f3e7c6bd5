package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/galleryio/go-photoaccess/internal/osproxy"
	"github.com/galleryio/go-photoaccess/storage"
)

// FileCollector turns path patterns into local file sources.
type FileCollector struct {
	pathModifier pathutil.PathModifier
	osProxy      osproxy.OsProxy
	logger       log.Logger
}

// NewFileCollector ...
func NewFileCollector(pathModifier pathutil.PathModifier, logger log.Logger) *FileCollector {
	return &FileCollector{
		pathModifier: pathModifier,
		osProxy:      osproxy.RealOS{},
		logger:       logger,
	}
}

// CollectFiles expands patterns into files. A pattern may start with ~/, reference
// env vars and use ** wildcards. Directories and duplicates are skipped; a pattern
// without matches only produces a warning.
func (c *FileCollector) CollectFiles(patterns []string) ([]storage.File, error) {
	paths, err := c.evaluatePaths(patterns)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var files []storage.File
	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		info, err := c.osProxy.Stat(path)
		if err != nil {
			c.logger.Warnf("Failed to check path %s, error: %s", path, err)
			continue
		}
		if info.IsDir() {
			c.logger.Debugf("Skipping directory %s", path)
			continue
		}

		file, err := storage.NewLocalFile(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		files = append(files, file)
	}
	return files, nil
}

func (c *FileCollector) evaluatePaths(patterns []string) ([]string, error) {
	var expandedPaths []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			expandedPaths = append(expandedPaths, pattern)
			continue
		}

		base, globPattern := doublestar.SplitPattern(pattern)
		absBase, err := c.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(c.osProxy.DirFS(absBase), globPattern, doublestar.WithNoFollow())
		if err != nil {
			c.logger.Warnf("Error in path pattern '%s': %s", pattern, err)
			continue
		}
		if len(matches) == 0 {
			c.logger.Warnf("No match for path pattern: %s", pattern)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	var finalPaths []string
	for _, path := range expandedPaths {
		absPath, err := c.pathModifier.AbsPath(path)
		if err != nil {
			c.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}
		if _, err := c.osProxy.Stat(absPath); err != nil {
			c.logger.Warnf("Photo path doesn't exist: %s", path)
			continue
		}
		finalPaths = append(finalPaths, absPath)
	}
	return finalPaths, nil
}
