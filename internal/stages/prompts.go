package stages

import "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/template"

// Prompt names. Each stage renders its prompt from the Services prompt set,
// so deployments can override any of them from a YAML file.
const (
	PromptSystem     = "system"
	PromptDiscovery  = "research_discovery"
	PromptDeepDive   = "research_deep_dive"
	PromptValidation = "research_validation"
	PromptSynthesis  = "research_synthesis"
	PromptQuestions  = "question_generation"
	PromptPlanning   = "planning"
	PromptWriting    = "writing"
	PromptPolishing  = "polishing"
)

var defaultPrompts = map[string]string{
	PromptSystem: `You produce "Nobody Knows", a podcast about the limits of human knowledge. ` +
		`Be accurate, admit uncertainty, and write for the ear.`,

	// One query per line.
	PromptDiscovery: `What is currently known about ${topic}?
What remains unknown or debated about ${topic}?
What are the most recent developments in ${topic}?
Who are the leading researchers and sources on ${topic}?`,

	PromptDeepDive: `Regarding ${topic}: ${lead} What evidence supports or challenges this, and what open questions remain?`,

	PromptValidation: `Check each claim about ${topic} against what you know. Answer one line per claim as
"<number>. SUPPORTED|DISPUTED|UNVERIFIED - reason".

${claims}`,

	PromptSynthesis: `Write a research brief on ${topic} from these notes. Start with a short summary, then list
the key points as "- " bullets. Flag disputed claims.

Notes:
${findings}
Claim checks:
${validation}`,

	PromptQuestions: `From this brief on ${topic}, list the questions a curious listener would ask, one per line.

${brief}`,

	PromptPlanning: `Plan a ${minutes} minute episode on ${topic}. First line "Title: ...", then one
"- Heading: summary" line per segment.

Brief:
${brief}

Listener questions:
${questions}`,

	PromptWriting: `Write a ${words} word podcast script on ${topic} following this outline.

${outline}

Brief:
${brief}

Editor feedback to address:
${feedback}`,

	PromptPolishing: `Polish this script on ${topic} for delivery: tighten phrasing, keep facts, keep length.
Return only the script.

${script}`,
}

// DefaultPrompts returns a new set holding the built-in prompts.
func DefaultPrompts() *template.Set {
	return template.NewSet().Merge(defaultPrompts)
}
