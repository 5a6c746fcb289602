package report

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Parser deserializes a stored Summary.
type Parser interface {
	Parse(data []byte) (*Summary, error)
}

// ParserFor picks a parser from the content of data: Markdown renderings
// carry a version comment, everything else is treated as supervisor output
// or raw JSON.
func ParserFor(data []byte) Parser {
	if bytes.Contains(data, []byte(markdownVersion)) {
		return &MarkdownParser{}
	}
	return &OutputParser{}
}

// OutputParser parses raw JSON or captured supervisor output.
type OutputParser struct{}

func (p *OutputParser) Parse(data []byte) (*Summary, error) {
	return Extract(data)
}

// MarkdownParser parses a Markdown rendering by decoding its embedded
// payload.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Summary, error) {
	content := string(data)
	if !strings.Contains(content, markdownVersion) {
		return nil, fmt.Errorf("not a headless summary: missing version comment")
	}
	start := strings.Index(content, markdownPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a headless summary: missing data payload")
	}
	start += len(markdownPrefix)
	end := strings.Index(content[start:], markdownSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a headless summary: malformed data payload")
	}
	jsonBytes, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("not a headless summary: corrupted payload: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(jsonBytes, &s); err != nil {
		return nil, fmt.Errorf("not a headless summary: %w", err)
	}
	return &s, nil
}
