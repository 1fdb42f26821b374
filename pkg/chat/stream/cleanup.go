package stream

import "strings"

// CleanFences strips wrapping code-fence markers from streamed text. The raw
// network payload sometimes wraps prose replies in fenced blocks; the same
// transform runs on every delta and on the final text so draft and final
// rendering never visibly diverge.
//
// Text that is not fence-wrapped passes through byte-identical, including
// leading/trailing whitespace, since deltas routinely start or end
// mid-sentence.
func CleanFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	body := trimmed[len("```"):]
	i := strings.IndexByte(body, '\n')
	if i < 0 {
		// A bare fence marker, possibly with a language tag. Nothing to keep.
		return ""
	}
	// Drop the remainder of the fence line (language tag, if any).
	body = body[i+1:]

	if strings.HasSuffix(body, "```") {
		body = body[:len(body)-len("```")]
	}
	return strings.TrimRight(body, "\n")
}
