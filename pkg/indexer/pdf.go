package indexer

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDFPages returns the per-page plain text of a PDF document.
// Pages that fail extraction or hold no text are skipped; the page
// numbers of the surviving pages are preserved.
func extractPDFPages(path string) ([]page, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var pages []page
	total := reader.NumPage()

	for num := 1; num <= total; num++ {
		p := reader.Page(num)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			// Extraction continues with the remaining pages.
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		pages = append(pages, page{Number: num, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in %d pages", total)
	}

	return pages, nil
}
