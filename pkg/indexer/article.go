package indexer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Article is one structured knowledge base record as stored in the
// source JSON files. Every language variant lives on the same object;
// absent variants are empty strings.
type Article struct {
	ID      ArticleID `json:"id"`
	AppName string    `json:"app_name"`
	Tags    []string  `json:"tags"`

	Title    string `json:"title"`
	TitleAR  string `json:"title_ar"`
	TitleCKB string `json:"title_ckb"`
	TitleKMR string `json:"title_kmr"`

	Content    string `json:"content"`
	ContentAR  string `json:"content_ar"`
	ContentCKB string `json:"content_ckb"`
	ContentKMR string `json:"content_kmr"`
}

// ArticleID tolerates both string and numeric ids in source JSON.
type ArticleID string

func (a *ArticleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = ArticleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*a = ArticleID(n.String())
		return nil
	}

	return fmt.Errorf("article id must be a string or number, got %s", string(data))
}

// languageVariant pairs a language code with its title and body.
type languageVariant struct {
	Language string
	Title    string
	Body     string
}

// variants returns the non-empty language variants of the article.
// An article exists in at least one language; callers treat a fully
// empty article as a parse error.
func (a *Article) variants() []languageVariant {
	all := []languageVariant{
		{"en", a.Title, a.Content},
		{"ar", a.TitleAR, a.ContentAR},
		{"ckb", a.TitleCKB, a.ContentCKB},
		{"kmr", a.TitleKMR, a.ContentKMR},
	}

	out := make([]languageVariant, 0, len(all))
	for _, v := range all {
		if strings.TrimSpace(v.Body) != "" {
			out = append(out, v)
		}
	}
	return out
}

// payload renders the embedded text for one language variant.
func (a *Article) payload(v languageVariant) string {
	return fmt.Sprintf("[Article %s] [%s] %s\n%s", a.ID, a.AppName, v.Title, v.Body)
}

// parseArticles decodes a JSON document holding either a list of
// articles or a single article object.
func parseArticles(data []byte) ([]Article, error) {
	var list []Article
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var single Article
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("not an article list or object: %w", err)
	}
	return []Article{single}, nil
}
