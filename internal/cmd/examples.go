package cmd

import (
	"math/rand"
	"regexp"

	"github.com/dotcommander/codingagency/internal/present"
)

var examples = map[string]string{
	"Fix a failing test":          `go test ./... 2>&1 | codingagency "make these tests pass"`,
	"Review the pending changes":  `git diff | codingagency -q "review this diff and fix what you find"`,
	"Scaffold and ship a website": `codingagency -w site "build a landing page for my bakery and deploy it"`,
}

func randomExample() string {
	keys := make([]string, 0, len(examples))
	for k := range examples {
		keys = append(keys, k)
	}
	desc := keys[rand.Intn(len(keys))] //nolint:gosec
	return desc
}

func cheapHighlighting(s present.Styles, code string) string {
	code = regexp.
		MustCompile(`"([^"\\]|\\.)*"`).
		ReplaceAllStringFunc(code, func(x string) string {
			return s.Quote.Render(x)
		})
	code = regexp.
		MustCompile(`\|`).
		ReplaceAllStringFunc(code, func(x string) string {
			return s.Pipe.Render(x)
		})
	return code
}
