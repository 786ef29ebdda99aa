// Package markup turns backend replies into bubble markup and bubble markup into
// terminal output.
package markup

import (
	"regexp"
	"strings"
)

const (
	// DocumentReadySentinel marks a /chat reply that carries a generated complaint.
	DocumentReadySentinel = "✅ La denuncia ha sido generada correctamente."

	// FormLinkMarkdown is the exact link the backend emits for the blank form.
	FormLinkMarkdown = "[Descargar formato de denuncia](/download_form)"

	DownloadSuePath  = "/download_sue"
	DownloadFormPath = "/download_form"

	DownloadSueAnchor  = `<a href="/download_sue" target="_blank" class="btn btn-success mt-2">📥 Descargar Denuncia</a>`
	DownloadFormAnchor = `<a href="/download_form" target="_blank" class="btn btn-primary mt-2">📥 Descargar Formato de denuncia</a>`
)

var linkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)

// ProcessChatResponse applies the /chat reply transformations in order:
// document button, form button, remaining markdown links, then line breaks.
func ProcessChatResponse(response string) string {
	out := response
	if strings.Contains(out, DocumentReadySentinel) {
		out = strings.Replace(out, DownloadSuePath, DownloadSueAnchor, 1)
	}
	out = strings.Replace(out, FormLinkMarkdown, DownloadFormAnchor, 1)
	out = MarkdownLinksToHTML(out)
	return NewlinesToBreaks(out)
}

// MarkdownLinksToHTML rewrites every [label](url) into an anchor opening in a new tab.
func MarkdownLinksToHTML(text string) string {
	return linkPattern.ReplaceAllString(text, `<a href="$2" target="_blank" class="text-primary">$1</a>`)
}

func NewlinesToBreaks(text string) string {
	return strings.ReplaceAll(text, "\n", "<br>")
}
