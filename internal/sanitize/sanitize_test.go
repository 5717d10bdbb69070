package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "The history of tea", "The history of tea"},
		{"whitespace collapsed", "  quantum \t\n computing  ", "quantum computing"},
		{"script removed", "AI <script>alert('x')</script> ethics", "AI ethics"},
		{"style removed", "<style>body{}</style>Jazz", "Jazz"},
		{"tags removed", "<b>Bold</b> claims", "Bold claims"},
		{"template removed", "Ocean {{ .Secret }} life", "Ocean life"},
		{"jinja block removed", "Ocean {% if x %} life", "Ocean life"},
		{"shell expansion removed", "Mars ${HOME} rovers", "Mars rovers"},
		{"php removed", "Bees <?php system('ls'); ?> decline", "Bees decline"},
		{"shell metachars removed", "cats; rm -rf / && dogs | tee", "cats rm -rf / dogs tee"},
		{"nested reassembly", "<scr<b>ipt>alert(1)</script>x", "alert(1) x"},
		{"nested script block", "Tea <scr<i>ipt src=x>", "Tea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Topic(tt.input, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopic_Idempotent(t *testing.T) {
	inputs := []string{
		"AI <script>x</script> ethics",
		"{{ a }} b {{ c",
		"<scr<b>ipt>alert(1)</script>x",
		strings.Repeat("word ", 60),
		"a ; b ` c $ d",
	}
	for _, in := range inputs {
		once, err := Topic(in, 50)
		require.NoError(t, err)
		twice, err := Topic(once, 50)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestTopic_Length(t *testing.T) {
	exact := strings.Repeat("a", 20)
	got, err := Topic(exact, 20)
	require.NoError(t, err)
	assert.Equal(t, exact, got)

	got, err = Topic(exact+"b", 20)
	require.NoError(t, err)
	assert.Equal(t, exact, got)

	got, err = Topic("hello world", 6)
	require.NoError(t, err)
	assert.Equal(t, "hello", got, "trailing space trimmed after truncation")
}

func TestTopic_TooShort(t *testing.T) {
	for _, in := range []string{"", "  ", "x", "<b></b>", "{{ only }}", ";;;"} {
		_, err := Topic(in, 0)
		require.Error(t, err, "input %q", in)

		var invalid *InvalidInputError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "topic", invalid.Field)
		assert.Equal(t, fgerrors.KindInvalidInput, fgerrors.Classify(err))
	}
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"episode_1.json":      "episode_1.json",
		"../../etc/passwd":    "passwd",
		`..\..\windows\ini`:   "ini",
		"my episode!.mp3":     "my_episode_.mp3",
		".hidden":             "hidden",
		"":                    "unnamed",
		"/":                   "unnamed",
		"ep-2026-01-01T10:00": "ep-2026-01-01T10_00",
	}
	for in, want := range tests {
		assert.Equal(t, want, Filename(in), "input %q", in)
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***wxyz", MaskSecret("sk-abcdefghwxyz", DefaultSecretTail))
	assert.Equal(t, "***", MaskSecret("short", DefaultSecretTail))
	assert.Equal(t, "***", MaskSecret("", DefaultSecretTail))
	assert.Equal(t, "***", MaskSecret("abcdefgh", 0))
	assert.Equal(t, "***", MaskSecret("abcdefgh", -2))
}
