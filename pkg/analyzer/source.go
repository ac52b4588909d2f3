package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"

	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

const maxDocumentBytes = 4 << 20

// Document is documentation text together with where it came from.
type Document struct {
	Text   string
	Source string
}

// DocumentLoader reads documentation from a file, stdin ("-") or an http(s) URL.
type DocumentLoader struct {
	Stdin  io.Reader
	Client *http.Client
}

// NewDocumentLoader returns a loader reading stdin and fetching with a bounded client.
func NewDocumentLoader() *DocumentLoader {
	return &DocumentLoader{
		Stdin:  os.Stdin,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Load returns the documentation text named by source. HTML pages are reduced to
// their readable article text.
func (l *DocumentLoader) Load(ctx context.Context, source string) (*Document, error) {
	switch {
	case source == "-":
		data, err := io.ReadAll(io.LimitReader(l.Stdin, maxDocumentBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read documentation from stdin: %w", err)
		}
		return &Document{Text: string(data), Source: "stdin"}, nil
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		return l.fetch(ctx, source)
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read documentation: %w", err)
		}
		return &Document{Text: string(data), Source: source}, nil
	}
}

func (l *DocumentLoader) fetch(ctx context.Context, rawURL string) (*Document, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid documentation url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "mcp-tool-forge")
	req.Header.Set("Accept", "text/html,text/plain,application/json;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := l.Client.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(metrics.BackendDocs, time.Since(start), false)
		return nil, fmt.Errorf("failed to fetch documentation: %w", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.RecordBackendRequest(metrics.BackendDocs, time.Since(start), ok)
	if !ok {
		return nil, fmt.Errorf("failed to fetch documentation: %s returned %s", rawURL, resp.Status)
	}

	body := io.LimitReader(resp.Body, maxDocumentBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read documentation: %w", err)
		}
		return &Document{Text: string(data), Source: rawURL}, nil
	}

	article, err := readability.FromReader(body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse documentation page: %w", err)
	}
	var text bytes.Buffer
	if err := article.RenderText(&text); err != nil {
		return nil, fmt.Errorf("failed to render documentation page: %w", err)
	}

	content := text.String()
	if title := article.Title(); title != "" {
		content = title + "\n\n" + content
	}
	return &Document{Text: content, Source: rawURL}, nil
}
