package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed template/analysis_prompt.txt
var analysisPrompt string

var analysisTpl = template.Must(template.New("analysis").Parse(analysisPrompt))

// RenderAnalysis renders the one-shot analysis prompt around the user's query.
func RenderAnalysis(query string) (string, error) {
	var sb strings.Builder
	if err := analysisTpl.Execute(&sb, map[string]any{"Query": query}); err != nil {
		return "", fmt.Errorf("render analysis prompt: %w", err)
	}
	return sb.String(), nil
}
