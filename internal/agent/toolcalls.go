package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BrotherOrange/PlayForge/internal/logging"
)

const toolCallFence = "```tool_call"

// toolCall is a parsed tool invocation from the model output.
type toolCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// toolResult holds the output from executing a tool.
type toolResult struct {
	Tool   string
	Output string
	Err    error
}

// toolCallRe matches ```tool_call\n{...}\n``` blocks in model output.
var toolCallRe = regexp.MustCompile("(?s)```tool_call\\s*\n(\\{.*?\\})\\s*\n\\s*```")

// xmlFuncCallRe matches <function_calls>...</function_calls> blocks some
// models emit instead of the fenced form.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// xmlBlockLevelRe matches self-contained XML tool-use blocks.
var xmlBlockLevelRe = regexp.MustCompile(`(?s)(?:` +
	`<invoke\b[^>]*>.*?</invoke>` +
	`|<tool_call\b[^>]*>.*?</tool_call>` +
	`|<tool_use\b[^>]*>.*?</tool_use>` +
	`)`)

var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// parseToolCalls extracts tool_call blocks from model output.
func parseToolCalls(text string) []toolCall {
	var calls []toolCall
	for _, match := range toolCallRe.FindAllStringSubmatch(text, -1) {
		var tc toolCall
		if err := json.Unmarshal([]byte(match[1]), &tc); err != nil {
			continue
		}
		if tc.Tool != "" {
			calls = append(calls, tc)
		}
	}
	return calls
}

// formatToolResults renders tool results as the next model input.
func formatToolResults(results []toolResult) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "### %s\n", r.Tool)
		if r.Err != nil {
			fmt.Fprintf(&b, "Error: %s\n", r.Err)
		} else {
			b.WriteString(r.Output)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// stripToolCalls removes tool-call markup from model output, leaving the
// surrounding prose.
func stripToolCalls(text string, log *logging.Logger) string {
	cleaned := toolCallRe.ReplaceAllString(text, "\n\n")

	if log != nil {
		for _, m := range xmlFuncCallRe.FindAllString(cleaned, -1) {
			log.Debug().Str("xml", m).Msg("stripped XML function_calls from model output")
		}
	}
	cleaned = xmlFuncCallRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlBlockLevelRe.ReplaceAllString(cleaned, "\n\n")

	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// toolCallFilter hides ```tool_call blocks from a live token stream.
// Text that might be the start of a fence is held back until it can be
// classified.
type toolCallFilter struct {
	inBlock bool
	pending string
}

// Write consumes a delta and returns the part that is safe to show.
func (f *toolCallFilter) Write(delta string) string {
	buf := f.pending + delta
	f.pending = ""

	var out strings.Builder
	for buf != "" {
		if !f.inBlock {
			if i := strings.Index(buf, toolCallFence); i >= 0 {
				out.WriteString(buf[:i])
				buf = buf[i+len(toolCallFence):]
				f.inBlock = true
				continue
			}
			k := partialSuffix(buf, toolCallFence)
			out.WriteString(buf[:len(buf)-k])
			f.pending = buf[len(buf)-k:]
			break
		}

		if i := strings.Index(buf, "```"); i >= 0 {
			buf = buf[i+3:]
			f.inBlock = false
			continue
		}
		f.pending = buf[len(buf)-partialSuffix(buf, "```"):]
		break
	}
	return out.String()
}

// Flush releases held-back text once the stream ends.
func (f *toolCallFilter) Flush() string {
	if f.inBlock {
		f.pending = ""
		return ""
	}
	out := f.pending
	f.pending = ""
	return out
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialSuffix(s, marker string) int {
	for k := min(len(marker)-1, len(s)); k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}
