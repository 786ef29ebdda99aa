// Package chatclient talks to the denuncia assistant backend over HTTP.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	chatPath         = "/chat"
	audioPath        = "/audio"
	confirmClearPath = "/confirm_clear"

	// AudioField and AudioFilename describe the multipart part sent to /audio.
	AudioField    = "audio"
	AudioFilename = "audio.webm"
)

// ChatResponse is the /chat reply.
type ChatResponse struct {
	Response      string `json:"response" yaml:"response"`
	AudioResponse string `json:"audio_response,omitempty" yaml:"audio_response,omitempty"`
}

// AudioResponse is the /audio reply. Response is HTML.
type AudioResponse struct {
	Transcription string `json:"transcription" yaml:"transcription"`
	Response      string `json:"response" yaml:"response"`
	AudioResponse string `json:"audio_response,omitempty" yaml:"audio_response,omitempty"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StatusError is returned for any non-2xx reply.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client is a thin wrapper around an http.Client bound to the backend base URL.
// The backend keeps the generated document path in its session cookie, so the
// client always carries a cookie jar.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	timeout       *time.Duration
	audioFilename string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client. A nil client is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout bounds every request. Zero means no timeout. It applies to the
// final http.Client whatever the option order.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = &d
	}
}

// WithAudioFilename sets the filename of the uploaded multipart part. The
// extension tells the backend which container the recording uses.
func WithAudioFilename(name string) Option {
	return func(cl *Client) {
		if name != "" {
			cl.audioFilename = name
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("chat client: base URL is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "chat client: invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("chat client: unsupported scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "chat client: cookie jar")
	}
	c := &Client{
		baseURL:       u,
		httpClient:    &http.Client{Jar: jar},
		audioFilename: AudioFilename,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	if c.timeout != nil {
		c.httpClient.Timeout = *c.timeout
	}
	return c, nil
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ResolveURL turns a backend relative reference (for instance an audio_response
// path) into an absolute URL. Absolute references are returned unchanged.
func (c *Client) ResolveURL(ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", errors.Wrapf(err, "invalid reference %q", ref)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, "/", r.Path)
	u.RawQuery = r.RawQuery
	return u.String(), nil
}

func (c *Client) endpoint(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}

// Chat posts {message} to /chat.
func (c *Client) Chat(ctx context.Context, message string) (*ChatResponse, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(chatPath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// A 200 without a response field is as broken as a 500.
	var raw struct {
		Response      *string `json:"response"`
		AudioResponse string  `json:"audio_response"`
	}
	if err := c.doJSON(req, chatPath, &raw); err != nil {
		return nil, err
	}
	if raw.Response == nil {
		return nil, errors.Errorf("%s: reply has no response field", chatPath)
	}
	return &ChatResponse{Response: *raw.Response, AudioResponse: raw.AudioResponse}, nil
}

// UploadAudio posts the recorded payload as multipart form data to /audio.
func (c *Client) UploadAudio(ctx context.Context, payload []byte) (*AudioResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, AudioField, c.audioFilename))
	partHeader.Set("Content-Type", audioContentType(c.audioFilename))
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err := part.Write(payload); err != nil {
		return nil, errors.Wrap(err, "write audio data")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(audioPath), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var ret AudioResponse
	if err := c.doJSON(req, audioPath, &ret); err != nil {
		return nil, err
	}
	if ret.Error != "" {
		return nil, errors.Errorf("%s: %s", audioPath, ret.Error)
	}
	return &ret, nil
}

// ConfirmClear asks the backend to drop its conversation memory. It returns the
// confirmation text of the backend, if any.
func (c *Client) ConfirmClear(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(confirmClearPath), nil)
	if err != nil {
		return "", err
	}
	var ret struct {
		Response string `json:"response"`
	}
	resp, err := c.do(req, confirmClearPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read confirm_clear body")
	}
	// Any HTTP OK clears; the body is informational only.
	if err := json.Unmarshal(body, &ret); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Msg("confirm_clear body is not JSON")
	}
	return ret.Response, nil
}

func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request failed", endpoint)
	}
	log.Debug().
		Str("component", "chatclient").
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend reply")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, endpoint string, v interface{}) error {
	resp, err := c.do(req, endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(err, "%s: invalid JSON reply", endpoint)
	}
	return nil
}

var audioContentTypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
}

func audioContentType(name string) string {
	if t, ok := audioContentTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return "audio/webm"
}
