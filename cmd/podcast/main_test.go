package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/settings"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/stages"
)

type cliEnv struct {
	base       string
	configPath string
	environ    []string
}

func newCLIEnv(t *testing.T, extra ...string) *cliEnv {
	t.Helper()

	base := t.TempDir()
	configPath := filepath.Join(base, "podcast.yaml")
	content := fmt.Sprintf("output_dir: %s\ncheckpoint_dir: %s\n",
		filepath.Join(base, "output"), filepath.Join(base, "checkpoints"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return &cliEnv{base: base, configPath: configPath, environ: extra}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand(func() []string { return e.environ })
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunDryRun_ThenList(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(t, "run", "--dry-run", "Deep Sea Vents")
	require.NoError(t, err)
	assert.Contains(t, out, "Deep Sea Vents")
	assert.Contains(t, out, string(episode.StageCompleted))
	assert.Contains(t, out, "$0.00")

	out, _, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No episodes", "completed episodes are not resumable")

	out, _, err = env.run(t, "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "Deep Sea Vents")

	reports, err := filepath.Glob(filepath.Join(env.base, "output", "*cost_report.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestRunCheck(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := env.run(t, "run", "--check", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stages not ready")
	assert.Contains(t, out, string(episode.StageResearchDiscovery))
	assert.Contains(t, out, stages.ErrNotConfigured.Error())

	_, _, err = env.run(t, "run", "--check", "--dry-run", "anything")
	assert.NoError(t, err)
}

func TestRunCheck_ConfiguredProviders(t *testing.T) {
	env := newCLIEnv(t,
		"PODCAST_PROVIDERS__RESEARCH__API_KEY=pplx-test",
		"PODCAST_PROVIDERS__CHAT__API_KEY=sk-test",
		"PODCAST_PROVIDERS__SPEECH__API_KEY=xi-test",
	)

	out, _, err := env.run(t, "run", "--check", "anything")
	require.NoError(t, err)
	assert.NotContains(t, out, stages.ErrNotConfigured.Error())
}

func TestRunBudgetFlag(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "run", "--dry-run", "--budget=-1", "topic")
	var ve interface{ Unwrap() []error }
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "budget_usd")
}

func TestResume_UnknownEpisode(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "resume", "ep_missing")
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "run", "--dry-run", "Tide Pools")
	require.NoError(t, err)

	out, _, err := env.run(t, "cleanup", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 checkpoint(s)")

	_, _, err = env.run(t, "cleanup", "--older-than", "-1s")
	assert.Error(t, err)
}

func TestLogFormat(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.run(t, "--log-format", "xml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log format")

	_, stderr, err := env.run(t, "--log-format", "json", "run", "--dry-run", "Glaciers")
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		assert.True(t, strings.HasPrefix(line, "{"), line)
	}
	assert.Contains(t, stderr, `"msg":"episode finished"`)
}

func TestInvalidSettings(t *testing.T) {
	env := newCLIEnv(t, "PODCAST_ENFORCEMENT=sometimes")

	_, _, err := env.run(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enforcement")
}

func TestObservabilityExportsSpans(t *testing.T) {
	env := newCLIEnv(t, "PODCAST_OBSERVABILITY__ENABLED=true")

	_, stderr, err := env.run(t, "run", "--dry-run", "Volcanoes")
	require.NoError(t, err)
	assert.Contains(t, stderr, "stage.research_discovery")
}

func TestEngineOptions(t *testing.T) {
	s := settings.Default()
	assert.Len(t, engineOptions(s, nil), 3)

	s.Handlers = map[string]settings.Handler{
		stages.HandlerResearch: {MaxAttempts: 5, RateFloor: 1},
		stages.HandlerChat:     {FailureThreshold: 2},
		"unknown":              {MaxAttempts: 9},
	}
	// research: breaker, policy, rate floor; chat: breaker.
	assert.Len(t, engineOptions(s, nil), 3+3+1)
}

func TestBuildServices(t *testing.T) {
	s := settings.Default()
	svc := buildServices(s, nil, nil)
	assert.Nil(t, svc.Researcher)
	assert.Nil(t, svc.Chatter)
	assert.Nil(t, svc.Synthesizer)
	assert.Nil(t, svc.Scorer)

	s.Chat.APIKey = "sk-test"
	s.Speech.APIKey = "xi-test"
	svc = buildServices(s, nil, nil)
	assert.Nil(t, svc.Researcher)
	require.NotNil(t, svc.Chatter)
	assert.Equal(t, stages.HandlerChat, svc.Chatter.Name())
	assert.NotNil(t, svc.Scorer)
	require.NotNil(t, svc.Synthesizer)
	assert.Equal(t, stages.HandlerSpeech, svc.Synthesizer.Name())
}
