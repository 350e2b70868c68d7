// Package bodyparse is the bundled default implementation of spec.md
// §1's external `parse(rawRFC822) → Parsed` contract: it reads the
// RFC-822 source with emersion/go-message/mail (already a teacher
// dependency, previously only used for envelope types) and sanitises
// an HTML body down to plain text the way the teacher's
// internal/parser/html.go does with goquery.
package bodyparse

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message/mail"

	"github.com/relaymail/mailcore/pkg/models"
)

// Parser turns a FetchedMessage's raw bytes into the sanitised Parsed
// shape the ingestion core and delivery formatter consume.
type Parser struct {
	whitespace *regexp.Regexp
	newlines   *regexp.Regexp
	invisible  *regexp.Regexp
}

// New constructs the bundled default parser.
func New() *Parser {
	return &Parser{
		whitespace: regexp.MustCompile(`[^\S\n]+`),
		newlines:   regexp.MustCompile(`\n{3,}`),
		invisible:  regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}\x{FFF0}-\x{FFF8}]+`),
	}
}

// Parse decodes fm's raw RFC-822 source into a models.Parsed, sourcing
// the envelope from the connector's already-decoded fields and the
// body from whichever MIME part is text/plain or text/html.
func (p *Parser) Parse(fm *models.FetchedMessage) (*models.Parsed, error) {
	plainText, htmlText, err := p.extractParts(fm.RawRFC822)
	if err != nil {
		return nil, fmt.Errorf("bodyparse: %w", err)
	}

	body := plainText
	if body == "" && htmlText != "" {
		sanitised, err := p.sanitiseHTML(htmlText)
		if err != nil {
			return nil, fmt.Errorf("bodyparse: sanitise html: %w", err)
		}
		body = sanitised
	}

	return &models.Parsed{
		MessageID: fm.MessageID,
		UID:       fm.UID,
		From:      fm.From,
		To:        fm.To,
		Subject:   fm.Subject,
		Date:      fm.Date,
		BodyText:  strings.TrimSpace(body),
	}, nil
}

func (p *Parser) extractParts(raw []byte) (plainText, htmlText string, err error) {
	reader, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return "", "", err
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch ct {
			case "text/plain":
				if plainText == "" {
					plainText = string(data)
				}
			case "text/html":
				if htmlText == "" {
					htmlText = string(data)
				}
			}
		}
	}
	return plainText, htmlText, nil
}

// sanitiseHTML mirrors the teacher's HTMLParser.Parse: strip
// script/style/head, add block-level newlines, collapse whitespace.
func (p *Parser) sanitiseHTML(html string) (string, error) {
	if html == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	text = p.invisible.ReplaceAllString(text, "")
	text = p.whitespace.ReplaceAllString(text, " ")

	var cleanLines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")
	text = p.newlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
