package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"rr-clan-bot/internal/model"
	"rr-clan-bot/internal/repository"
)

const (
	// PlaceholderToken is the canonical placeholder stored in template bodies.
	PlaceholderToken = "{rr_name}"
	// authorMarker is what template authors type instead of the token.
	authorMarker = "имя_игрока"
	// previewName stands in for a real alias when templates are listed.
	previewName = "Имя_игрока"
)

// Render substitutes every whole-word occurrence of the placeholder token
// with the alias. Trailing punctuation glued to the token stays attached;
// the token buried inside a larger word is left alone.
func Render(body, alias string) string {
	return mapWords(body, func(word string) string {
		if !strings.HasPrefix(word, PlaceholderToken) {
			return word
		}
		rest := strings.TrimPrefix(word, PlaceholderToken)
		if !isPunctuationOnly(rest) {
			return word
		}
		return alias + rest
	})
}

// ParseAuthorTemplate rewrites author input into a canonical template body:
// every word containing the author-facing marker becomes the placeholder
// token with its trailing punctuation preserved. The result is trimmed of
// trailing whitespace.
func ParseAuthorTemplate(raw string) string {
	out := mapWords(raw, func(word string) string {
		idx := strings.Index(word, authorMarker)
		if idx < 0 {
			return word
		}
		return PlaceholderToken + word[idx+len(authorMarker):]
	})
	return strings.TrimRightFunc(out, unicode.IsSpace)
}

// DescribeAll builds the numbered listing shown to leaders before choosing a
// template. Placeholders are previewed with a generic name; entries are
// separated by blank lines. Numbers are the 1-indexed template ids, so the
// choice a leader sends back maps straight onto storage.
func DescribeAll(templates []model.Template) string {
	if len(templates) == 0 {
		return "Шаблонов пока нет."
	}
	var b strings.Builder
	for i, tmpl := range templates {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("%d. %s", tmpl.ID+1, Render(tmpl.Body, previewName)))
	}
	return b.String()
}

// mapWords applies f to every whitespace-delimited word, leaving the
// whitespace between words exactly as it was.
func mapWords(s string, f func(string) string) string {
	var b strings.Builder
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				b.WriteString(f(s[start:i]))
				start = -1
			}
			b.WriteRune(r)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		b.WriteString(f(s[start:]))
	}
	return b.String()
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// TemplateService wraps template storage with the author-input parsing step.
type TemplateService struct {
	repo *repository.TemplateRepository
}

func NewTemplateService(repo *repository.TemplateRepository) *TemplateService {
	return &TemplateService{repo: repo}
}

func (s *TemplateService) List(ctx context.Context) ([]model.Template, error) {
	return s.repo.List(ctx)
}

func (s *TemplateService) Get(ctx context.Context, id int) (*model.Template, error) {
	return s.repo.Get(ctx, id)
}

// Create parses the author's raw text and appends it after the highest
// existing id. Returns the assigned id.
func (s *TemplateService) Create(ctx context.Context, raw string) (int, error) {
	return s.repo.Create(ctx, ParseAuthorTemplate(raw))
}

// Delete removes a template; gorm.ErrRecordNotFound passes through so the
// dialogue layer can reply "invalid selection".
func (s *TemplateService) Delete(ctx context.Context, id int) error {
	return s.repo.Delete(ctx, id)
}
