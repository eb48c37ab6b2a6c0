package session

import "strings"

// Responder produces the full assistant reply for one turn. The reply is
// then chunked into delta frames by the streaming loop.
type Responder func(content string) string

// defaultResponder is a placeholder reply generator. Production deployments
// plug in a real assistant backend here.
func defaultResponder(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "I did not receive any message content."
	}
	return "Looking at the review context for: " + content
}

// chunkReply splits a reply into word-granularity delta chunks, keeping
// whitespace attached to the preceding word so concatenation reproduces
// the reply exactly.
func chunkReply(reply string) []string {
	if reply == "" {
		return nil
	}

	var chunks []string
	start := 0
	inSpace := false
	for i, r := range reply {
		if r == ' ' || r == '\n' || r == '\t' {
			inSpace = true
			continue
		}
		if inSpace {
			chunks = append(chunks, reply[start:i])
			start = i
			inSpace = false
		}
	}
	chunks = append(chunks, reply[start:])
	return chunks
}
