package indexer

// Chunk is one window of document text with its page span.
type Chunk struct {
	Text      string
	Ordinal   int
	FirstPage int
	LastPage  int
}

// page is extracted text with its 1-based page number.
type page struct {
	Number int
	Text   string
}

// chunkerConfig controls window size and overlap, both in runes.
type chunkerConfig struct {
	Size    int
	Overlap int
}

// chunkPages splits the concatenated page text into fixed overlapping
// rune windows. Boundaries depend only on (size, overlap, input), so
// re-indexing unchanged source yields identical chunks. Every chunk
// except the last has exactly Size runes.
func chunkPages(pages []page, cfg chunkerConfig) []Chunk {
	type span struct {
		start, end int // rune offsets into the joined text
		number     int
	}

	var joined []rune
	var spans []span

	for i, p := range pages {
		if i > 0 {
			joined = append(joined, '\n', '\n')
		}
		start := len(joined)
		joined = append(joined, []rune(p.Text)...)
		spans = append(spans, span{start: start, end: len(joined), number: p.Number})
	}

	if len(joined) == 0 {
		return nil
	}

	pageAt := func(offset int) int {
		for _, s := range spans {
			if offset < s.end {
				return s.number
			}
		}
		return spans[len(spans)-1].number
	}

	step := cfg.Size - cfg.Overlap
	if step <= 0 {
		step = cfg.Size
	}

	var chunks []Chunk
	for start := 0; start < len(joined); start += step {
		end := start + cfg.Size
		if end > len(joined) {
			end = len(joined)
		}

		chunks = append(chunks, Chunk{
			Text:      string(joined[start:end]),
			Ordinal:   len(chunks),
			FirstPage: pageAt(start),
			LastPage:  pageAt(end - 1),
		})

		if end == len(joined) {
			break
		}
	}

	return chunks
}
