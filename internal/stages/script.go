package stages

import (
	"fmt"
	"strings"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/quality"
)

const (
	maxQuestions   = 10
	wordsPerMinute = 150
)

func newQuestions(svc *Services) Stage {
	return &stage{
		name:  episode.StageQuestionGeneration,
		next:  episode.StageQuestionGeneration,
		needs: needsChat,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			syn := s.StageOutputs.Synthesis
			if syn == nil {
				return nil, missingInput(episode.StageResearchSynthesis)
			}
			res, err := c.generate(PromptQuestions, map[string]any{
				"topic": s.Topic,
				"brief": syn.Brief,
			}, 600)
			if err != nil {
				return nil, err
			}

			items := listItems(res.Content)
			questions := make([]string, 0, len(items))
			for _, it := range items {
				if strings.HasSuffix(it, "?") {
					questions = append(questions, it)
				}
			}
			if len(questions) == 0 {
				questions = append(questions, items...)
			}
			if len(questions) > maxQuestions {
				questions = questions[:maxQuestions]
			}
			return &episode.QuestionsOutput{Questions: questions, CostUSD: cost.RoundUSD(res.CostUSD)}, nil
		},
	}
}

func newPlanning(svc *Services) Stage {
	return &stage{
		name:  episode.StagePlanning,
		next:  episode.StagePlanning,
		needs: needsChat,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			syn := s.StageOutputs.Synthesis
			if syn == nil {
				return nil, missingInput(episode.StageResearchSynthesis)
			}
			var questions []string
			if q := s.StageOutputs.Questions; q != nil {
				questions = q.Questions
			}
			minutes := s.Config.TargetMinutes

			res, err := c.generate(PromptPlanning, map[string]any{
				"topic":     s.Topic,
				"minutes":   minutes,
				"brief":     syn.Brief,
				"questions": strings.Join(questions, "\n"),
			}, 800)
			if err != nil {
				return nil, err
			}
			plan := parsePlan(res.Content, s.Topic, minutes)
			plan.CostUSD = cost.RoundUSD(res.CostUSD)
			return plan, nil
		},
	}
}

// parsePlan reads a "Title:" line and one segment per list item. A reply
// with no segments becomes a single segment spanning the episode.
func parsePlan(text, topic string, minutes float64) *episode.PlanOutput {
	plan := &episode.PlanOutput{Title: topic, TargetMinutes: minutes}
	var items []string
	for _, line := range listItems(text) {
		if title, ok := strings.CutPrefix(line, "Title:"); ok {
			if t := strings.TrimSpace(title); t != "" {
				plan.Title = t
			}
			continue
		}
		items = append(items, line)
	}
	if len(items) == 0 {
		items = []string{topic}
	}

	per := minutes / float64(len(items))
	for _, it := range items {
		heading, summary, _ := strings.Cut(it, ":")
		plan.Segments = append(plan.Segments, episode.Segment{
			Heading: strings.TrimSpace(heading),
			Summary: strings.TrimSpace(summary),
			Minutes: per,
		})
	}
	return plan
}

func outline(p *episode.PlanOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	for i, seg := range p.Segments {
		fmt.Fprintf(&b, "%d. %s (%.1f min)", i+1, seg.Heading, seg.Minutes)
		if seg.Summary != "" {
			fmt.Fprintf(&b, ": %s", seg.Summary)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func newWriting(svc *Services) Stage {
	return &stage{
		name:  episode.StageWriting,
		next:  episode.StageWriting,
		needs: needsChat,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			plan := s.StageOutputs.Plan
			if plan == nil {
				return nil, missingInput(episode.StagePlanning)
			}
			brief := ""
			if syn := s.StageOutputs.Synthesis; syn != nil {
				brief = syn.Brief
			}
			feedback := "none"
			if len(s.Feedback) > 0 {
				feedback = "- " + strings.Join(s.Feedback, "\n- ")
			}
			words := int(s.Config.TargetMinutes * wordsPerMinute)

			res, err := c.generate(PromptWriting, map[string]any{
				"topic":    s.Topic,
				"words":    words,
				"outline":  outline(plan),
				"brief":    brief,
				"feedback": feedback,
			}, words*2)
			if err != nil {
				return nil, err
			}

			text := strings.TrimSpace(res.Content)
			path := ArtifactPath(s.Config.OutputDir, s.EpisodeID, "script.md")
			if err := WriteArtifact(path, []byte(text+"\n")); err != nil {
				return nil, err
			}
			return &episode.ScriptOutput{
				Text:      text,
				WordCount: wordCount(text),
				Attempt:   s.Completions[episode.StageWriting] + 1,
				Advice:    append([]string{}, s.Feedback...),
				FilePath:  path,
				CostUSD:   cost.RoundUSD(res.CostUSD),
			}, nil
		},
	}
}

func newPolishing(svc *Services) Stage {
	return &stage{
		name:  episode.StagePolishing,
		next:  episode.StagePolishing,
		needs: needsChat | needsScorer,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			script := s.StageOutputs.Script
			if script == nil {
				return nil, missingInput(episode.StageWriting)
			}

			res, err := c.generate(PromptPolishing, map[string]any{
				"topic":  s.Topic,
				"script": script.Text,
			}, max(script.WordCount*2, 256))
			if err != nil {
				return nil, err
			}
			text := strings.TrimSpace(res.Content)
			if text == "" {
				text = script.Text
			}

			gate, scoreUSD, err := c.score(text)
			if err != nil {
				return nil, err
			}
			if script.FilePath != "" {
				if err := WriteArtifact(script.FilePath, []byte(text+"\n")); err != nil {
					return nil, err
				}
			}

			decision := quality.DecidePolish(gate, s.RetryCounters[episode.StageWriting], s.Config.MaxWriteRetries)
			return &episode.PolishOutput{
				Text:      text,
				WordCount: wordCount(text),
				Gate:      gate,
				Decision:  decision,
				CostUSD:   cost.RoundUSD(res.CostUSD + scoreUSD),
			}, nil
		},
		after: func(s episode.State) (episode.State, error) {
			p := s.StageOutputs.Polished
			if p.Decision != episode.DecisionRetryWriting {
				return s.WithFeedback(nil), nil
			}
			next, err := s.IncrementRetry(episode.StageWriting)
			if err != nil {
				return s, err
			}
			return next.WithFeedback(p.Gate.Advice), nil
		},
	}
}
