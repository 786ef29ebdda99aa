package chatclient

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Download fetches a document link found in a bot bubble (/download_form,
// /download_sue) and stores it in dir under the name announced by the backend.
// It returns the path of the written file.
func (c *Client) Download(ctx context.Context, ref string, dir string) (string, error) {
	u, err := c.ResolveURL(ref)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req, ref)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	name := attachmentName(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = path.Base(strings.TrimRight(ref, "/")) + extensionFor(resp.Header.Get("Content-Type"))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create downloads directory")
	}
	target := filepath.Join(dir, name)
	f, err := os.Create(target)
	if err != nil {
		return "", errors.Wrap(err, "create download file")
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return "", errors.Wrapf(err, "write %s", target)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", target)
	}
	return target, nil
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	name := filepath.Base(filepath.Clean("/" + params["filename"]))
	if name == "/" || name == "." {
		return ""
	}
	return name
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if mt == "application/pdf" {
		return ".pdf"
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
