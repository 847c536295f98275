package registry

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoRecord is returned when no local build was recorded for a reference.
var ErrNoRecord = errors.New("no recorded build")

// ImageRecord maps an image reference to the OCI layout a local build wrote.
type ImageRecord struct {
	Reference  string    `json:"reference"`
	Target     string    `json:"target,omitempty"`
	LayoutPath string    `json:"layoutPath"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store keeps one JSON record per reference under Dir. The records are what
// `--check local` consults and what Push reads layouts from.
type Store struct {
	Dir string
	now func() time.Time
}

// NewStore returns a store rooted at dir, or at DefaultRecordsDir when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		var err error
		dir, err = DefaultRecordsDir()
		if err != nil {
			return nil, err
		}
	}
	return &Store{Dir: dir, now: time.Now}, nil
}

// DefaultRecordsDir honors BAKER_IMAGE_RECORDS and otherwise lives in the user cache dir.
func DefaultRecordsDir() (string, error) {
	if v := os.Getenv("BAKER_IMAGE_RECORDS"); v != "" {
		return v, nil
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "baker", "images"), nil
}

// Record stores reference -> layoutPath. layoutPath must hold an OCI layout.
func (s *Store) Record(target, reference, layoutPath string) error {
	if reference == "" {
		return errors.New("reference is required")
	}
	if layoutPath == "" {
		return errors.New("layout path is required")
	}
	if err := checkLayout(layoutPath); err != nil {
		return err
	}
	absLayout, err := filepath.Abs(layoutPath)
	if err != nil {
		return err
	}
	rec := ImageRecord{Reference: reference, Target: target, LayoutPath: absLayout, UpdatedAt: s.clock().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	name := encodeReference(reference)
	tmp := filepath.Join(s.Dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.Dir, name+".json"))
}

// RecordBuild records every tag of one build against the same layout.
func (s *Store) RecordBuild(target string, tags []string, layoutPath string) error {
	if len(tags) == 0 || layoutPath == "" {
		return nil
	}
	for _, tag := range tags {
		if err := s.Record(target, tag, layoutPath); err != nil {
			return fmt.Errorf("record %s: %w", tag, err)
		}
	}
	return nil
}

// Resolve returns the record for reference. A record whose layout has since
// disappeared is treated as missing.
func (s *Store) Resolve(reference string) (ImageRecord, error) {
	path := filepath.Join(s.Dir, encodeReference(reference)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ImageRecord{}, fmt.Errorf("%w for %s", ErrNoRecord, reference)
		}
		return ImageRecord{}, err
	}
	var rec ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ImageRecord{}, fmt.Errorf("decode record for %s: %w", reference, err)
	}
	if err := checkLayout(rec.LayoutPath); err != nil {
		return ImageRecord{}, fmt.Errorf("%w for %s: %w", ErrNoRecord, reference, err)
	}
	return rec, nil
}

// Has reports whether a usable record exists for reference.
func (s *Store) Has(reference string) (bool, error) {
	_, err := s.Resolve(reference)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	return err == nil, err
}

// ListRepository returns every record whose reference is a tag of repository.
func (s *Store) ListRepository(repository string) ([]ImageRecord, error) {
	if repository == "" {
		return nil, errors.New("repository is required")
	}
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	prefix := repository + ":"
	matches := make([]ImageRecord, 0)
	for _, rec := range records {
		if strings.HasPrefix(rec.Reference, prefix) {
			matches = append(matches, rec)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Reference == matches[j].Reference {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].Reference < matches[j].Reference
	})
	return matches, nil
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Store) readAll() ([]ImageRecord, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]ImageRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec ImageRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func checkLayout(layoutPath string) error {
	if _, err := os.Stat(filepath.Join(layoutPath, "index.json")); err != nil {
		return fmt.Errorf("%s is not a valid OCI layout: %w", layoutPath, err)
	}
	return nil
}

func encodeReference(ref string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(ref))
}
