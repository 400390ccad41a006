package artifact

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutOpen(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rel, err := s.Put(DirAudio, "episode.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(DirAudio, "episode.mp3"), rel)

	r, err := s.Open(rel)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(b))

	size, err := s.Size(rel)
	require.NoError(t, err)
	assert.EqualValues(t, len("audio-bytes"), size)

	t.Run("no temp files remain", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(s.Root(), DirAudio))
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), ".put-"), "leftover temp file %s", e.Name())
		}
	})
}

func TestPutAudioPerSubmissionLayout(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rel, err := s.PutAudio(12, "My Episode.mp3", strings.NewReader("audio"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(DirAudio, "12", "My Episode.mp3"), rel)

	r, err := s.Open(rel)
	require.NoError(t, err)
	r.Close()

	// Deleting the only artifact removes the submission directory too.
	require.NoError(t, s.Delete(rel))
	_, err = os.Stat(filepath.Join(s.Root(), DirAudio, "12"))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreJSONRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	type payload struct {
		Text string `json:"text"`
		N    int    `json:"n"`
	}
	rel, err := s.PutJSON(DirChunks, "42.json", payload{Text: "hello", N: 7})
	require.NoError(t, err)

	var got payload
	require.NoError(t, s.GetJSON(rel, &got))
	assert.Equal(t, payload{Text: "hello", N: 7}, got)
}

func TestStoreDelete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rel, err := s.Put(DirTranscripts, "t.json", strings.NewReader("{}"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(rel))
	_, err = s.Open(rel)
	assert.Error(t, err)

	t.Run("missing artifact is not an error", func(t *testing.T) {
		assert.NoError(t, s.Delete(rel))
		assert.NoError(t, s.Delete(""))
	})
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "episode.mp3", "episode.mp3"},
		{"path separators", "a/b\\c.mp3", "b_c.mp3"},
		{"colon and control", "a:b\x01c.wav", "a_b_c.wav"},
		{"empty", "", "artifact"},
		{"dot-dot", "..", "artifact"},
		{"spaces kept", "my episode.mp3", "my episode.mp3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeName(tc.in))
		})
	}

	t.Run("truncates to 200 bytes preserving extension", func(t *testing.T) {
		long := strings.Repeat("x", 500) + ".mp3"
		got := SanitizeName(long)
		assert.LessOrEqual(t, len(got), 200)
		assert.True(t, strings.HasSuffix(got, ".mp3"))
	})

	t.Run("multibyte truncation stays valid utf-8", func(t *testing.T) {
		long := strings.Repeat("я", 300) + ".mp3"
		got := SanitizeName(long)
		assert.LessOrEqual(t, len(got), 200)
		assert.True(t, strings.HasSuffix(got, ".mp3"))
		assert.True(t, strings.ToValidUTF8(got, "") == got)
	})
}
