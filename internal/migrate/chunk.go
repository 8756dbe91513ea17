package migrate

// MessageLenLimit is the platform's content length ceiling per send.
const MessageLenLimit = 2000

// Chunk splits text into rune-safe pieces of at most limit runes. The
// delivery path sends each piece as a reply to the previous one, so the
// chunks render as a single visual thread; concatenating them reconstructs
// the original text exactly.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
