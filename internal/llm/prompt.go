package llm

import "strings"

const promptPreamble = `You are an assistant that writes OpenAPI documentation.
Produce OpenAPI 3.0 JSON generated from the following source.
Describe every HTTP endpoint you can find under "paths", keyed by URL template and lower-case method.

Source:

`

const promptTrailer = `

---
Output format: a single JSON object compatible with OpenAPI 3.0. Do not add commentary.`

// BuildPrompt wraps source in the generation instructions. source is
// included verbatim.
func BuildPrompt(source string) string {
	var b strings.Builder
	b.Grow(len(promptPreamble) + len(source) + len(promptTrailer))
	b.WriteString(promptPreamble)
	b.WriteString(source)
	b.WriteString(promptTrailer)
	return b.String()
}
