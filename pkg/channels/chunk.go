package channels

// TelegramLimit is the largest message chunk sent to Telegram.
const TelegramLimit = 4000

// Chunk splits text into ordered pieces of at most limit runes. A piece ends
// at the last newline inside the window when there is one. Joining the
// pieces gives back text exactly.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
