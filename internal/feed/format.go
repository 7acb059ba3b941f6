package feed

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"feedbot/internal/storage"
)

// TimeFormat renders publish dates in delivered posts.
const TimeFormat = "Monday, 2 January 2006, 15:04 -0700"

// DefaultSummaryLength is the number of runes kept from a summary.
const DefaultSummaryLength = 400

// Formatter renders posts for delivery.
type Formatter struct {
	SummaryLength int
}

// Rendered is a formatted post. MissingSummary and MissingLink report parts
// that were requested by the display options but absent from the post.
type Rendered struct {
	Text           string
	MissingSummary bool
	MissingLink    bool
}

// Format renders p with the default summary length.
func Format(p Post, opt storage.DisplayOptions) string {
	return Formatter{}.Render(p, opt).Text
}

// Render builds the message:
//
//	[label: ]title
//
//	summary...
//
//	Monday, 2 January 2006, 15:04 -0700
//	https://link
func (f Formatter) Render(p Post, opt storage.DisplayOptions) Rendered {
	var (
		b   strings.Builder
		out Rendered
	)
	if label := strings.TrimSpace(opt.Label); label != "" {
		b.WriteString(label)
		b.WriteString(": ")
	}
	b.WriteString(strings.TrimSpace(p.Title))
	b.WriteString("\n")

	if opt.Summary {
		if s := Summary(p.SummaryHTML, f.summaryLength()); s != "" {
			b.WriteString("\n")
			b.WriteString(s)
			b.WriteString("\n")
		} else {
			out.MissingSummary = true
		}
	}
	if opt.Date && !p.PublishedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(p.PublishedAt.Format(TimeFormat))
		b.WriteString("\n")
	}
	if opt.Link {
		if link := strings.TrimSpace(p.Link); link != "" {
			if !opt.Date || p.PublishedAt.IsZero() {
				b.WriteString("\n")
			}
			b.WriteString(link)
			b.WriteString("\n")
		} else {
			out.MissingLink = true
		}
	}
	out.Text = strings.TrimRight(b.String(), "\n")
	return out
}

func (f Formatter) summaryLength() int {
	if f.SummaryLength > 0 {
		return f.SummaryLength
	}
	return DefaultSummaryLength
}

// Summary converts an HTML fragment to plain text, collapses whitespace and
// cuts it to limit runes, appending "..." when text was dropped.
func Summary(html string, limit int) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	text := html
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find("script, style").Remove()
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:limit])) + "..."
}
