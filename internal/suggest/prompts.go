package suggest

import "text/template"

// The summarize prompt distills one example into short bullet phrases; the
// synthesize prompt groups the bullet summaries into named patterns with a
// classification prompt and exemplar ids. When the session already has
// concepts, both prompts list them and ask for non-overlapping output.

var summarizePrompt = template.Must(template.New("summarize").Parse(`
I have the following TEXT EXAMPLE:
{{.ex}}
{{if .existing_concepts}}
I have this set of EXISTING CONCEPTS:
{{.existing_concepts}}

Please summarize the aspects of this EXAMPLE that are {{.seeding_phrase}} and capture unique aspects of the text that are NOT captured by the EXISTING CONCEPTS. Provide the summary as at most {{.n_bullets}} bullet points, where each bullet point is a {{.n_words}} word phrase. Please respond ONLY with a valid JSON in the following format:
{{else}}
Please summarize the aspects of this EXAMPLE that are {{.seeding_phrase}} and capture unique aspects of the text. Provide the summary as at most {{.n_bullets}} bullet points, where each bullet point is a {{.n_words}} word phrase. Please respond ONLY with a valid JSON in the following format:
{{end -}}
{
    "bullets": [ "<BULLET_1>", "<BULLET_2>", ... ]
}
`))

var synthesizePrompt = template.Must(template.New("synthesize").Parse(`
I have this set of bullet point summaries of text examples:
{{.examples}}
{{if .existing_concepts}}
I have this set of EXISTING CONCEPTS:
{{.existing_concepts}}

Please write a summary of {{.n_concepts_phrase}} for these examples. {{.seeding_phrase}} These patterns should NOT overlap with the EXISTING CONCEPTS. For each high-level pattern, write a 2-4 word NAME for the pattern and an associated 1-sentence ChatGPT PROMPT that could take in a new text example and determine whether the relevant pattern applies. Also include 1-2 example_ids for items that BEST exemplify the pattern. Please respond ONLY with a valid JSON in the following format:
{{else}}
Please write a summary of {{.n_concepts_phrase}} for these examples. {{.seeding_phrase}} For each high-level pattern, write a 2-4 word NAME for the pattern and an associated 1-sentence ChatGPT PROMPT that could take in a new text example and determine whether the relevant pattern applies. Also include 1-2 example_ids for items that BEST exemplify the pattern. Please respond ONLY with a valid JSON in the following format:
{{end -}}
{
    "patterns": [
        {"name": "<PATTERN_NAME_1>", "prompt": "<PATTERN_PROMPT_1>", "example_ids": ["<EXAMPLE_ID_1>", "<EXAMPLE_ID_2>"]},
        {"name": "<PATTERN_NAME_2>", "prompt": "<PATTERN_PROMPT_2>", "example_ids": ["<EXAMPLE_ID_1>", "<EXAMPLE_ID_2>"]}
    ]
}
`))
