package concepts

import "text/template"

// Classification prompts ask for a one-sentence rationale plus a bucketed
// A/B answer wrapped in a pattern_result JSON object. The few-shot variant
// additionally shows sample texts known to match the criteria.

var zeroShotPrompt = template.Must(template.New("classify").Parse(`
CONTEXT:
    I have the following TEXT EXAMPLE:
    {{.ex}}

    I have the following CRITERIA:
    {{.criteria}}

TASK:
    For the given TEXT EXAMPLE, please evaluate the CRITERIA by generating a 1-sentence RATIONALE of your thought process and providing a resulting ANSWER of ONE of the following multiple-choice options, including just the letter:
    - A: Yes
    - B: No
    Respond with ONLY a JSON with the following format, escaping any quotes within strings with a backslash:
    {
        "pattern_result":
            {
                "rationale": "<rationale>",
                "answer": "<answer>",
            }
    }
`))

var fewShotPrompt = template.Must(template.New("classify-few-shot").Parse(`
CONTEXT:
    I have the following TEXT EXAMPLE:
    {{.ex}}

    I have the following CRITERIA:
    {{.criteria}}

    The following sample texts match the criteria:
    {{.concept_examples}}

TASK:
    For the given TEXT EXAMPLE, please evaluate the CRITERIA by generating a 1-sentence RATIONALE of your thought process and providing a resulting ANSWER of ONE of the following multiple-choice options, including just the letter:
    - A: Yes
    - B: No
    Respond with ONLY a JSON with the following format, escaping any quotes within strings with a backslash:
    {
        "pattern_result":
            {
                "rationale": "<rationale>",
                "answer": "<answer>",
            }
    }
`))
