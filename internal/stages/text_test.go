package stages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
)

func TestListItems(t *testing.T) {
	text := "Intro line\n- dash\n* star\n1. one\n2) two\n\n   \n• bullet"
	assert.Equal(t, []string{"Intro line", "dash", "star", "one", "two", "bullet"}, listItems(text))
	assert.Equal(t, []string{"dash", "star", "one", "two", "bullet"}, bulletItems(text))
	assert.Equal(t, []string{}, bulletItems("no bullets here"))
	assert.Nil(t, listItems(""))
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"One. Two.", "One."},
		{"  Spread\n over   lines? Yes.", "Spread over lines?"},
		{"no terminator", "no terminator"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, firstSentence(tt.in), tt.in)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "short", truncate("short", 10))
}

func TestParseVerdicts(t *testing.T) {
	text := "1. SUPPORTED - fine\n" +
		"Claim 2: Disputed by recent work\n" +
		"3) unverified\n" +
		"9. supported\n" +
		"no number supported\n"
	got := parseVerdicts(text, 3)
	assert.Equal(t, map[int]string{
		0: episode.VerdictSupported,
		1: episode.VerdictDisputed,
		2: episode.VerdictUnverified,
	}, got)
}

func TestParsePlan(t *testing.T) {
	t.Run("segments", func(t *testing.T) {
		p := parsePlan("Title: Dark\n1. Intro: hello\n2. Outro", "topic", 12)
		assert.Equal(t, "Dark", p.Title)
		require.Len(t, p.Segments, 2)
		assert.Equal(t, episode.Segment{Heading: "Intro", Summary: "hello", Minutes: 6}, p.Segments[0])
		assert.Equal(t, "Outro", p.Segments[1].Heading)
		assert.Contains(t, outline(p), "1. Intro (6.0 min): hello")
	})

	t.Run("empty reply", func(t *testing.T) {
		p := parsePlan("", "dark matter", 15)
		assert.Equal(t, "dark matter", p.Title)
		require.Len(t, p.Segments, 1)
		assert.Equal(t, 15.0, p.Segments[0].Minutes)
	})
}

func TestArtifacts(t *testing.T) {
	dir := t.TempDir()
	path := ArtifactPath(filepath.Join(dir, "nested"), "ep_1", "script.md")
	assert.Equal(t, filepath.Join(dir, "nested", "ep_1_script.md"), path)

	require.NoError(t, WriteArtifact(path, []byte("one")))
	require.NoError(t, WriteArtifact(path, []byte("two")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
