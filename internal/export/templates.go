package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var articleTemplate = template.Must(template.New("article").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(articleTemplateHTML))

// TemplateData holds data for article template rendering
type TemplateData struct {
	Title       string
	AuthorName  string
	PublishedAt time.Time
	UpdatedAt   time.Time
	Paragraphs  []string
}

// RenderArticleHTML renders the article template with provided data
func RenderArticleHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := articleTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SplitParagraphs breaks plain-text content on blank lines. Escaping
// is left to html/template.
func SplitParagraphs(content string) []string {
	var paragraphs []string
	for _, block := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paragraphs = append(paragraphs, block)
	}
	return paragraphs
}

const articleTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    p { white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.AuthorName}}{{if not .PublishedAt.IsZero}} | Published {{formatDate .PublishedAt "Jan 2, 2006"}}{{end}} | Updated {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>
  {{range .Paragraphs}}<p>{{.}}</p>
  {{end}}
</body>
</html>`
