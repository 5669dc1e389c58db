package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter colours JSON documents for the terminal.
type Highlighter struct {
	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
	plain     bool
}

// NewHighlighter returns a highlighter using the named chroma formatter and
// style. An empty formatter name, or "noop", disables colouring.
func NewHighlighter(formatter, style string) *Highlighter {
	h := &Highlighter{
		lexer: lexers.Get("json"),
		style: styles.Get(style),
	}
	if h.lexer == nil {
		h.lexer = lexers.Fallback
	}
	if formatter == "" || formatter == "noop" {
		h.plain = true
		return h
	}
	h.formatter = formatters.Get(formatter)
	if h.formatter == nil {
		h.formatter = formatters.Fallback
	}
	return h
}

// JSON indents v and highlights it.
func (h *Highlighter) JSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}
	src := string(data)
	if h.plain {
		return src, nil
	}

	it, err := h.lexer.Tokenise(nil, src)
	if err != nil {
		return src, nil
	}
	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, it); err != nil {
		return src, nil
	}
	return buf.String(), nil
}
