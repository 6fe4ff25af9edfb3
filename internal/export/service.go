package export

import (
	"context"
	"fmt"
)

// Service renders article revisions into downloadable files.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export generates an export of the given article in the requested format.
func (s *Service) Export(ctx context.Context, article Article, format Format) (*Result, error) {
	data := TemplateData{
		Title:       article.Title,
		AuthorName:  article.AuthorName,
		PublishedAt: article.PublishedAt,
		UpdatedAt:   article.UpdatedAt,
		Paragraphs:  SplitParagraphs(article.Content),
	}
	if data.Title == "" {
		data.Title = article.DocumentID
	}
	if data.AuthorName == "" {
		data.AuthorName = "Unknown author"
	}

	html, err := RenderArticleHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return renderPDF(ctx, html, data.Title)
	case FormatDOCX:
		return renderDOCX(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
