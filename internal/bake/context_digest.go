package bake

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	digest "github.com/opencontainers/go-digest"
)

// ContextDigester hashes build contexts. Results are cached per absolute path
// for the lifetime of the digester, so share one per invocation.
type ContextDigester struct {
	mu    sync.Mutex
	cache map[string]*digestEntry
}

type digestEntry struct {
	once sync.Once
	dgst digest.Digest
	err  error
}

func NewContextDigester() *ContextDigester {
	return &ContextDigester{cache: map[string]*digestEntry{}}
}

// Context digests a build context directory, honoring its .dockerignore.
func (c *ContextDigester) Context(dir string) (digest.Digest, error) {
	return c.cached("context", dir, func(abs string) (digest.Digest, error) {
		info, err := os.Stat(abs)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory", abs)
		}
		matcher, err := loadDockerignore(filepath.Join(abs, ".dockerignore"))
		if err != nil {
			return "", err
		}
		return digestTree(abs, matcher)
	})
}

// Path digests a single file, or a directory tree without ignore rules.
func (c *ContextDigester) Path(path string) (digest.Digest, error) {
	return c.cached("path", path, func(abs string) (digest.Digest, error) {
		info, err := os.Stat(abs)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return digestFile(abs)
		}
		return digestTree(abs, nil)
	})
}

func (c *ContextDigester) cached(kind, path string, compute func(abs string) (digest.Digest, error)) (digest.Digest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	key := kind + "\x00" + abs
	c.mu.Lock()
	entry, ok := c.cache[key]
	if !ok {
		entry = &digestEntry{}
		c.cache[key] = entry
	}
	c.mu.Unlock()
	entry.once.Do(func() {
		entry.dgst, entry.err = compute(abs)
	})
	return entry.dgst, entry.err
}

func loadDockerignore(path string) (*patternmatcher.PatternMatcher, error) {
	var patterns []string
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		patterns, err = ignorefile.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	return patternmatcher.New(patterns)
}

type treeEntry struct {
	rel string
	sum string
}

// digestTree folds relative path and content digest of every file under root.
// Walk order, timestamps and permissions never affect the result.
func digestTree(root string, matcher *patternmatcher.PatternMatcher) (digest.Digest, error) {
	var entries []treeEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if matcher != nil {
			ignored, err := matcher.MatchesOrParentMatches(rel)
			if err != nil {
				return fmt.Errorf("match %s against .dockerignore: %w", rel, err)
			}
			if ignored {
				// An exclusion pattern may re-include files below an ignored directory.
				if d.IsDir() && !matcher.Exclusions() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			entries = append(entries, treeEntry{rel: rel, sum: "symlink:" + filepath.ToSlash(link)})
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, err := digestFile(p)
		if err != nil {
			return err
		}
		entries = append(entries, treeEntry{rel: rel, sum: sum.String()})
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	d := digest.SHA256.Digester()
	h := d.Hash()
	for _, e := range entries {
		writeField(h, e.rel)
		writeField(h, e.sum)
	}
	return d.Digest(), nil
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.SHA256.FromReader(f)
}

func writeField(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
	_, _ = w.Write([]byte{0})
}
