// Package rulesfile is the detect.SignatureLoader/SignatureGroupBuilder
// implementation this process actually wires in: a flat, newline-delimited
// rule file read from disk. It stands in for the real signature compiler
// the core treats as an external collaborator, and keeps file handling out
// of the reload machinery itself.
package rulesfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cheewill/detectengine/internal/detect"
)

// FileLoader loads one CompiledSignature per non-empty, non-comment line of
// Path. Lines beginning with '#' are comments. ConfigPrefix from the build
// options is intentionally unused: the rule file path is fixed at process
// configuration time, not reload-scoped.
type FileLoader struct {
	Path string
}

// LoadSignatures implements detect.SignatureLoader.
func (l FileLoader) LoadSignatures(prefix string) ([]detect.CompiledSignature, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("rulesfile: open %s: %w", l.Path, err)
	}
	defer f.Close()

	var sigs []detect.CompiledSignature
	var id uint32 = 1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sigs = append(sigs, detect.CompiledSignature{ID: id, Raw: line})
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rulesfile: reading %s: %w", l.Path, err)
	}
	return sigs, nil
}

// CachingLoader wraps a FileLoader with an LRU cache keyed by the file's
// path, size and mtime, so back-to-back reloads against an unchanged rule
// file skip the re-parse. A touched file changes the key and falls through
// to a fresh read; stale entries age out of the LRU.
type CachingLoader struct {
	inner FileLoader
	cache *lru.Cache[string, []detect.CompiledSignature]
}

// NewCachingLoader builds a CachingLoader over path holding up to size
// parsed rule sets.
func NewCachingLoader(path string, size int) (*CachingLoader, error) {
	if size <= 0 {
		size = 8
	}
	cache, err := lru.New[string, []detect.CompiledSignature](size)
	if err != nil {
		return nil, fmt.Errorf("rulesfile: building cache: %w", err)
	}
	return &CachingLoader{inner: FileLoader{Path: path}, cache: cache}, nil
}

// LoadSignatures implements detect.SignatureLoader.
func (l *CachingLoader) LoadSignatures(prefix string) ([]detect.CompiledSignature, error) {
	info, err := os.Stat(l.inner.Path)
	if err != nil {
		return nil, fmt.Errorf("rulesfile: stat %s: %w", l.inner.Path, err)
	}
	key := fmt.Sprintf("%s|%d|%d", l.inner.Path, info.Size(), info.ModTime().UnixNano())

	if sigs, ok := l.cache.Get(key); ok {
		return sigs, nil
	}
	sigs, err := l.inner.LoadSignatures(prefix)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, sigs)
	return sigs, nil
}

// GroupBuilder is the default detect.SignatureGroupBuilder: it only logs
// what it was asked to group, leaving the actual MPM group construction to
// the pattern-matcher factories the original engine delegates to (outside
// this core's scope).
type GroupBuilder struct {
	Logger *slog.Logger
}

// BuildSignatureGroups implements detect.SignatureGroupBuilder.
func (b GroupBuilder) BuildSignatureGroups(sigs []detect.CompiledSignature, limits detect.GroupLimits, mode detect.MPMContextMode) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("signature groups built", "count", len(sigs), "sgh_mpm_context", mode.String())
	return nil
}
