package stages

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/cost"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/provider"
	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/resilience"
)

const maxClaims = 8

func newDiscovery(svc *Services) Stage {
	return &stage{
		name:  episode.StageResearchDiscovery,
		next:  episode.StageResearchDiscovery,
		needs: needsResearch,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			queries, err := c.queries(PromptDiscovery, map[string]any{"topic": s.Topic})
			if err != nil {
				return nil, err
			}
			return c.research(episode.StageResearchDiscovery, queries, provider.RecencyAny)
		},
	}
}

func newDeepDive(svc *Services) Stage {
	return &stage{
		name:  episode.StageResearchDeepDive,
		next:  episode.StageResearchDeepDive,
		needs: needsResearch,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			disc := s.StageOutputs.Discovery
			if disc == nil {
				return nil, missingInput(episode.StageResearchDiscovery)
			}

			var queries []string
			for _, f := range disc.Findings {
				if len(queries) == c.svc.Queries {
					break
				}
				q, err := c.svc.Prompts.Render(PromptDeepDive, map[string]any{
					"topic": s.Topic,
					"lead":  firstSentence(f.Content),
				})
				if err != nil {
					return nil, err
				}
				queries = append(queries, strings.TrimSpace(q))
			}
			if len(queries) == 0 {
				return nil, missingInput(episode.StageResearchDiscovery)
			}
			return c.research(episode.StageResearchDeepDive, queries, provider.RecencyYear)
		},
	}
}

// queries renders a prompt holding one query per line.
func (c *call) queries(prompt string, vars map[string]any) ([]string, error) {
	text, err := c.svc.Prompts.Render(prompt, vars)
	if err != nil {
		return nil, err
	}
	qs := listItems(text)
	if len(qs) > c.svc.Queries {
		qs = qs[:c.svc.Queries]
	}
	return qs, nil
}

type searchOutcome struct {
	res provider.SearchResult
	err error
}

// research runs queries concurrently, at most Concurrency at a time, and
// aggregates them in query order. The budget is checked once for the whole
// batch. Individual failures are kept in the output; the stage fails only
// when every query does.
func (c *call) research(kind episode.Stage, queries []string, recency provider.Recency) (*episode.ResearchOutput, error) {
	r := c.researcher()
	reqs := make([]provider.SearchRequest, len(queries))
	estimates := make([]float64, len(queries))
	var total float64
	for i, q := range queries {
		reqs[i] = provider.SearchRequest{Query: q, Recency: recency, Timeout: c.svc.CallTimeout}
		estimates[i] = r.EstimateCost(reqs[i])
		total += estimates[i]
	}
	if !c.dry {
		if err := c.guard.Check(string(c.stage), total); err != nil {
			return nil, err
		}
	}

	outcomes := make([]searchOutcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(c.svc.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := invoke(c, HandlerResearch, 0, func(ctx context.Context) (provider.SearchResult, error) {
				return r.Search(ctx, req)
			}, func(_ context.Context, cause error) (provider.SearchResult, error) {
				return provider.FallbackSearch(req, cause), nil
			})
			outcomes[i] = searchOutcome{res: synthetic(res), err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := &episode.ResearchOutput{
		Kind:     kind,
		Queries:  queries,
		Findings: []episode.Finding{},
		Failures: []episode.QueryFailure{},
	}
	var firstErr error
	for i, o := range outcomes {
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			out.Failures = append(out.Failures, episode.QueryFailure{
				Query: queries[i],
				Kind:  fgerrors.Classify(o.err).String(),
				Error: o.err.Error(),
			})
			continue
		}

		if !o.res.Synthetic || o.res.CostUSD > 0 {
			usd, estimated := actual(o.res.Usage.Reported(), o.res.CostUSD, estimates[i])
			if err := c.record(charge{
				provider:  r.Name(),
				model:     o.res.Model,
				units:     cost.UnitsTokens,
				quantity:  int64(o.res.Usage.TotalTokens),
				usd:       usd,
				estimated: estimated,
			}); err != nil {
				return nil, err
			}
			out.CostUSD += usd
		}
		out.Findings = append(out.Findings, episode.Finding{
			Query:     queries[i],
			Content:   o.res.Content,
			Citations: citations(o.res.Citations),
			Synthetic: o.res.Synthetic,
		})
	}
	out.CostUSD = cost.RoundUSD(out.CostUSD)

	if len(out.Findings) == 0 && firstErr != nil {
		return nil, fmt.Errorf("all %d research queries failed: %w", len(queries), firstErr)
	}
	return out, nil
}

// synthetic folds the handler's fallback flag into the result.
func synthetic(r resilience.Result[provider.SearchResult]) provider.SearchResult {
	v := r.Value
	v.Synthetic = v.Synthetic || r.Synthetic
	return v
}

func citations(in []provider.Citation) []episode.Citation {
	out := make([]episode.Citation, 0, len(in))
	for _, c := range in {
		out = append(out, episode.Citation{URL: c.URL, Title: c.Title, PublishedAt: c.PublishedAt})
	}
	return out
}

func newValidation(svc *Services) Stage {
	return &stage{
		name:  episode.StageResearchValidation,
		next:  episode.StageResearchValidation,
		needs: needsChat,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			if s.StageOutputs.Discovery == nil {
				return nil, missingInput(episode.StageResearchDiscovery)
			}

			out := &episode.ValidationOutput{Claims: []episode.ClaimCheck{}}
			findings := allFindings(s)
			for _, f := range findings {
				if len(out.Claims) == maxClaims {
					break
				}
				claim := firstSentence(f.Content)
				if claim == "" {
					continue
				}
				out.Claims = append(out.Claims, episode.ClaimCheck{
					Claim:   claim,
					Verdict: episode.VerdictUnverified,
					Sources: citationURLs(f.Citations),
				})
			}
			if len(out.Claims) == 0 {
				return out, nil
			}

			var numbered strings.Builder
			for i, cl := range out.Claims {
				fmt.Fprintf(&numbered, "%d. %s\n", i+1, cl.Claim)
			}
			res, err := c.generate(PromptValidation, map[string]any{
				"topic":  s.Topic,
				"claims": numbered.String(),
			}, 800)
			if err != nil {
				return nil, err
			}

			verdicts := parseVerdicts(res.Content, len(out.Claims))
			supported := 0
			for i := range out.Claims {
				if v, ok := verdicts[i]; ok {
					out.Claims[i].Verdict = v
				}
				if out.Claims[i].Verdict == episode.VerdictSupported {
					supported++
				}
			}
			out.Confidence = float64(supported) / float64(len(out.Claims))
			out.CostUSD = cost.RoundUSD(res.CostUSD)
			return out, nil
		},
	}
}

func newSynthesis(svc *Services) Stage {
	return &stage{
		name:  episode.StageResearchSynthesis,
		next:  episode.StageResearchSynthesis,
		needs: needsChat,
		svc:   svc,
		body: func(c *call, s episode.State) (episode.Output, error) {
			findings := allFindings(s)
			if len(findings) == 0 {
				return nil, missingInput(episode.StageResearchDiscovery)
			}

			var notes strings.Builder
			for _, f := range findings {
				fmt.Fprintf(&notes, "## %s\n%s\n\n", f.Query, truncate(f.Content, 1200))
			}
			var checks strings.Builder
			if v := s.StageOutputs.Validation; v != nil {
				for _, cl := range v.Claims {
					fmt.Fprintf(&checks, "- [%s] %s\n", cl.Verdict, cl.Claim)
				}
			}

			res, err := c.generate(PromptSynthesis, map[string]any{
				"topic":      s.Topic,
				"findings":   notes.String(),
				"validation": checks.String(),
			}, 1500)
			if err != nil {
				return nil, err
			}

			var cites []episode.Citation
			seen := make(map[string]bool)
			for _, f := range findings {
				for _, ct := range f.Citations {
					if ct.URL == "" || seen[ct.URL] {
						continue
					}
					seen[ct.URL] = true
					cites = append(cites, ct)
				}
			}
			if cites == nil {
				cites = []episode.Citation{}
			}
			return &episode.SynthesisOutput{
				Brief:     strings.TrimSpace(res.Content),
				KeyPoints: bulletItems(res.Content),
				Citations: cites,
				CostUSD:   cost.RoundUSD(res.CostUSD),
			}, nil
		},
	}
}

// allFindings returns discovery then deep-dive findings.
func allFindings(s episode.State) []episode.Finding {
	var out []episode.Finding
	if d := s.StageOutputs.Discovery; d != nil {
		out = append(out, d.Findings...)
	}
	if d := s.StageOutputs.DeepDive; d != nil {
		out = append(out, d.Findings...)
	}
	return out
}

func citationURLs(in []episode.Citation) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c.URL != "" {
			out = append(out, c.URL)
		}
	}
	return out
}
