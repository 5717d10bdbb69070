package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
)

func newAudio(svc *Services) Stage {
	return &stage{
		name:  episode.StageAudioGeneration,
		next:  episode.StageAudioGeneration,
		needs: needsSpeech,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			p := s.StageOutputs.Polished
			if p == nil {
				return nil, missingInput(episode.StagePolishing)
			}

			tts := c.synthesizer()
			req := provider.SynthesisRequest{
				Text:       p.Text,
				VoiceID:    s.Config.VoiceID,
				Settings:   provider.DefaultVoiceSettings,
				OutputPath: ArtifactPath(s.Config.OutputDir, s.EpisodeID, "audio.mp3"),
				Timeout:    c.svc.CallTimeout,
			}
			estimate := tts.EstimateCost(req)

			res, err := invoke(c, HandlerSpeech, estimate, func(ctx context.Context) (provider.SynthesisResult, error) {
				return tts.Synthesize(ctx, req)
			}, nil)
			if err != nil {
				return nil, err
			}

			out := res.Value
			usd, estimated := actual(false, out.CostUSD, estimate)
			if err := c.record(charge{
				provider:  tts.Name(),
				units:     cost.UnitsCharacters,
				quantity:  int64(out.CharacterCount),
				usd:       usd,
				estimated: estimated,
			}); err != nil {
				return nil, err
			}
			return &episode.AudioOutput{
				FilePath:        out.FilePath,
				DurationSeconds: out.DurationSeconds,
				CharacterCount:  out.CharacterCount,
				VoiceID:         s.Config.VoiceID,
				Synthetic:       out.Synthetic,
				CostUSD:         cost.RoundUSD(usd),
			}, nil
		},
	}
}

// qualityReport is written next to the episode's other artifacts.
type qualityReport struct {
	EpisodeID    string             `json:"episode_id"`
	Topic        string             `json:"topic"`
	Passed       bool               `json:"passed"`
	AudioSkipped bool               `json:"audio_skipped"`
	FailureCause string             `json:"failure_cause,omitempty"`
	Final        episode.GateResult `json:"final"`
	Polish       episode.GateResult `json:"polish"`
	WriteRetries int                `json:"write_retries"`
	AudioPath    string             `json:"audio_path,omitempty"`
}

func newQualityCheck(svc *Services) Stage {
	return &stage{
		name:  episode.StageQualityCheck,
		next:  episode.StageCompleted,
		needs: needsScorer,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			p := s.StageOutputs.Polished
			if p == nil {
				return nil, missingInput(episode.StagePolishing)
			}

			gate, scoreUSD, err := c.score(p.Text)
			if err != nil {
				return nil, err
			}

			retries := s.RetryCounters[episode.StageWriting]
			skipped := p.Decision == episode.DecisionSkipAudio
			audio := s.StageOutputs.Audio
			out := &episode.QualityOutput{
				Gate:         gate,
				AudioSkipped: skipped,
				Passed:       gate.Pass && !skipped && audio != nil,
			}
			switch {
			case skipped:
				out.FailureCause = fmt.Sprintf("polish score %.1f below threshold %.1f after %d writing retries",
					p.Gate.Score, p.Gate.Threshold, retries)
			case !gate.Pass:
				out.FailureCause = fmt.Sprintf("final score %.1f below threshold %.1f", gate.Score, gate.Threshold)
			case audio == nil:
				out.FailureCause = "no audio generated"
			}

			report := qualityReport{
				EpisodeID:    s.EpisodeID,
				Topic:        s.Topic,
				Passed:       out.Passed,
				AudioSkipped: skipped,
				FailureCause: out.FailureCause,
				Final:        gate,
				Polish:       p.Gate,
				WriteRetries: retries,
			}
			if audio != nil {
				report.AudioPath = audio.FilePath
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return nil, err
			}
			out.ReportPath = ArtifactPath(s.Config.OutputDir, s.EpisodeID, "quality.json")
			if err := WriteArtifact(out.ReportPath, data); err != nil {
				return nil, err
			}

			out.CostUSD = cost.RoundUSD(scoreUSD)
			return out, nil
		},
	}
}
