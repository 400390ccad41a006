// Package artifact stores pipeline outputs (audio, transcripts, chunk sets)
// as plain files under a data root. Writes are atomic: content lands in a
// temp file and is renamed into place, so readers never observe partial
// artifacts.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Subdirectories under the data root, one per artifact class.
const (
	DirAudio       = "audio"
	DirTranscripts = "transcripts"
	DirChunks      = "chunks"
)

// Store is a filesystem-backed artifact store rooted at one directory.
type Store struct {
	root string
}

// NewStore prepares the artifact directories under root.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{DirAudio, DirTranscripts, DirChunks} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Path resolves a relative artifact reference to an absolute path.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.root, rel)
}

// Sizes reports total stored bytes per artifact class.
func (s *Store) Sizes() map[string]int64 {
	out := make(map[string]int64, 3)
	for _, dir := range []string{DirAudio, DirTranscripts, DirChunks} {
		var total int64
		_ = filepath.WalkDir(filepath.Join(s.root, dir), func(_ string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
			return nil
		})
		out[dir] = total
	}
	return out
}

// Put writes content to dir/name atomically and returns the relative
// reference to store on the submission.
func (s *Store) Put(dir, name string, content io.Reader) (string, error) {
	rel := filepath.Join(dir, SanitizeName(name))
	dst := filepath.Join(s.root, rel)

	tmp, err := os.CreateTemp(filepath.Join(s.root, dir), ".put-*")
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing artifact %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing artifact %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("publishing artifact %s: %w", rel, err)
	}
	return rel, nil
}

// PutAudio stores a submission's audio under its own directory,
// audio/<submission-id>/<sanitized-name>, and returns the relative
// reference.
func (s *Store) PutAudio(submissionID int64, name string, content io.Reader) (string, error) {
	dir := filepath.Join(DirAudio, strconv.FormatInt(submissionID, 10))
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return "", fmt.Errorf("creating audio directory %s: %w", dir, err)
	}
	return s.Put(dir, name, content)
}

// PutJSON marshals v and stores it under dir/name.
func (s *Store) PutJSON(dir, name string, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact %s: %w", name, err)
	}
	return s.Put(dir, name, strings.NewReader(string(b)))
}

// Open returns a reader for a stored artifact.
func (s *Store) Open(rel string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, rel))
	if err != nil {
		return nil, fmt.Errorf("opening artifact %s: %w", rel, err)
	}
	return f, nil
}

// GetJSON reads a stored artifact into v.
func (s *Store) GetJSON(rel string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		return fmt.Errorf("reading artifact %s: %w", rel, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding artifact %s: %w", rel, err)
	}
	return nil
}

// Size returns a stored artifact's byte size.
func (s *Store) Size(rel string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.root, rel))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes a stored artifact. Missing artifacts are not an error.
func (s *Store) Delete(rel string) error {
	if rel == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, rel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting artifact %s: %w", rel, err)
	}
	// Drop a now-empty per-submission directory; remove fails silently when
	// the directory still has content.
	if dir := filepath.Dir(rel); filepath.Dir(dir) != "." {
		_ = os.Remove(filepath.Join(s.root, dir))
	}
	return nil
}

// maxNameBytes bounds artifact file names for filesystem portability.
const maxNameBytes = 200

// SanitizeName reduces an arbitrary title to a safe file name: path
// separators and control characters become underscores and the result is
// truncated to 200 bytes, preserving the extension.
func SanitizeName(name string) string {
	if name == "" || name == "." || name == ".." {
		return "artifact"
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)

	var b strings.Builder
	for _, r := range base {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" || clean == "." || clean == ".." {
		clean = "artifact"
	}

	limit := maxNameBytes - len(ext)
	if limit < 1 {
		limit = 1
	}
	// Trim whole runes so truncation never splits a UTF-8 sequence.
	for len(clean) > limit {
		runes := []rune(clean)
		clean = string(runes[:len(runes)-1])
	}
	return clean + ext
}
