package markup

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var classPattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(classPattern).Globally()
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	p.AllowRelativeURLs(true)
	return p
}

var policy = newPolicy()

// SanitizeHTML strips everything from backend supplied HTML that a chat bubble
// should not carry (scripts, handlers, foreign attributes).
func SanitizeHTML(s string) string {
	return policy.Sanitize(s)
}

// ToMarkdown converts bubble markup back into markdown so that it can be rendered
// in a terminal. Only the tags produced by ProcessChatResponse and the usual
// formatting tags of the /audio replies are mapped; other tags keep their text.
func ToMarkdown(s string) string {
	var (
		b       strings.Builder
		hrefs   []string
		listDep int
	)
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(collapseBlankLines(b.String()))
		case html.TextToken:
			b.WriteString(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Br:
				b.WriteString("\n")
			case atom.A:
				hrefs = append(hrefs, attr(tok, "href"))
				b.WriteString("[")
			case atom.B, atom.Strong:
				b.WriteString("**")
			case atom.I, atom.Em:
				b.WriteString("_")
			case atom.Code:
				b.WriteString("`")
			case atom.P, atom.Div:
				b.WriteString("\n\n")
			case atom.Ul, atom.Ol:
				listDep++
				b.WriteString("\n")
			case atom.Li:
				b.WriteString("\n" + strings.Repeat("  ", max(listDep-1, 0)) + "- ")
			case atom.H1, atom.H2, atom.H3, atom.H4:
				b.WriteString("\n\n### ")
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.A:
				if len(hrefs) == 0 {
					continue
				}
				href := hrefs[len(hrefs)-1]
				hrefs = hrefs[:len(hrefs)-1]
				b.WriteString("](" + href + ")")
			case atom.B, atom.Strong:
				b.WriteString("**")
			case atom.I, atom.Em:
				b.WriteString("_")
			case atom.Code:
				b.WriteString("`")
			case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4:
				b.WriteString("\n\n")
			case atom.Ul, atom.Ol:
				if listDep > 0 {
					listDep--
				}
				b.WriteString("\n")
			}
		}
	}
}

// Links returns the href of every anchor in s, in document order.
func Links(s string) []string {
	var ret []string
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return ret
		}
		if tt != html.StartTagToken {
			continue
		}
		tok := z.Token()
		if tok.DataAtom == atom.A {
			if href := attr(tok, "href"); href != "" {
				ret = append(ret, href)
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
