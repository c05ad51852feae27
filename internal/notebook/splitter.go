package notebook

import "strings"

// splitWords chunks text into pieces of at most chunkWords words.
// Chunks do not overlap; word boundaries are any whitespace run.
func splitWords(text string, chunkWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkWords <= 0 {
		chunkWords = 256
	}

	var chunks []string
	for i := 0; i < len(words); i += chunkWords {
		end := i + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// groupN joins runs of n consecutive items, used to batch chunks
// before summarization.
func groupN(items []string, n int) []string {
	if n <= 0 {
		n = 3
	}

	var groups []string
	for i := 0; i < len(items); i += n {
		end := i + n
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, strings.Join(items[i:end], " "))
	}
	return groups
}
