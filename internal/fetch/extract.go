package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MinContentLength is the shortest extracted text treated as a real posting.
// Shorter text usually means the page renders its content with JavaScript.
const MinContentLength = 500

// NeedsRendering reports whether text is too short to be the posting.
func NeedsRendering(text string) bool {
	return len(strings.TrimSpace(text)) < MinContentLength
}

// Platform is a known job board.
type Platform string

const (
	PlatformGreenhouse Platform = "greenhouse"
	PlatformLever      Platform = "lever"
	PlatformWorkday    Platform = "workday"
	PlatformUnknown    Platform = "unknown"
)

// DetectPlatform identifies the job board from a URL's host.
func DetectPlatform(rawURL string) Platform {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	switch {
	case strings.HasSuffix(host, "greenhouse.io"):
		return PlatformGreenhouse
	case strings.HasSuffix(host, "lever.co"):
		return PlatformLever
	case strings.HasSuffix(host, "workday.com"), strings.HasSuffix(host, "myworkdayjobs.com"):
		return PlatformWorkday
	default:
		return PlatformUnknown
	}
}

// genericContent is tried after any platform selectors.
var genericContent = []string{
	".job-description",
	"#job-description",
	".job-content",
	".posting-content",
	".job-details",
	"[data-testid='job-description']",
	"main",
	"article",
	"#content",
	".content",
}

// contentSelectors returns the selectors that locate the posting body, most specific first.
func contentSelectors(p Platform) []string {
	var specific []string
	switch p {
	case PlatformGreenhouse:
		specific = []string{".job__description.body", ".job__description", ".job-post-container"}
	case PlatformLever:
		specific = []string{".posting-page", ".section-wrapper.page-full-width", ".posting-description"}
	case PlatformWorkday:
		specific = []string{"[data-automation-id='jobDescription']", ".gwt-HTML"}
	}
	return append(specific, genericContent...)
}

// alwaysNoise is removed from every page before extraction.
const alwaysNoise = "nav, footer, header, script, style, noscript, iframe, form, " +
	".cookie-banner, .cookie-consent, .gdpr-notice, .social-share, .share-buttons, " +
	".eeo-statement, .eeo-section, .voluntary-disclosure, .legal-disclosure, " +
	".application-form, #application-form, .apply-button-container"

// noiseSelectors returns extra platform elements that are not part of the posting.
func noiseSelectors(p Platform) string {
	switch p {
	case PlatformGreenhouse:
		return ".application--wrapper, .voluntary-self-id, #usa_self_id_section, .post-apply"
	case PlatformLever:
		return ".apply-section, .lever-application-form, .posting-apply"
	case PlatformWorkday:
		return "[data-automation-id='applyButton'], .application-section"
	default:
		return ""
	}
}

// Page is the text extracted from a job page.
type Page struct {
	Title string
	Text  string
}

// Extract returns the posting title and body text of html.
func Extract(html string, p Platform) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := cleanWhitespace(doc.Find("h1").First().Text())
	if title == "" {
		title = cleanWhitespace(doc.Find("title").First().Text())
	}

	doc.Find(alwaysNoise).Remove()
	if extra := noiseSelectors(p); extra != "" {
		doc.Find(extra).Remove()
	}

	content := doc.Find("body")
	for _, sel := range contentSelectors(p) {
		if s := doc.Find(sel); s.Length() > 0 {
			content = s.First()
			break
		}
	}

	// Block elements become line breaks so the text keeps its structure.
	content.Find("p, li, br, h1, h2, h3, h4, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return &Page{Title: title, Text: cleanWhitespace(content.Text())}, nil
}

// cleanWhitespace trims every line and drops blank ones.
func cleanWhitespace(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
