package rasterize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

// Client renders PDF pages to PNG through an external rasterizer
// service. The PDF is probed locally first so a corrupt upload fails
// fast without a render round trip, and so the returned page count can
// be checked against the document's real one.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// PageCount parses the PDF header structures and returns the page
// count. Returns ErrInvalidInput for bytes that are not a readable PDF.
func PageCount(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse pdf", err)
	}
	return reader.NumPage(), nil
}

// Render posts the document and returns one PNG per page, in page
// order.
func (c *Client) Render(ctx context.Context, data []byte) ([][]byte, error) {
	expected, err := PageCount(data)
	if err != nil {
		return nil, err
	}
	if expected == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render pdf", fmt.Errorf("document has no pages"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rasterizer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return nil, fmt.Errorf("rasterizer status: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("rasterizer status: %s", resp.Status)
	}

	var body struct {
		Pages []string `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if len(body.Pages) != expected {
		return nil, fmt.Errorf("rasterizer returned %d pages, document has %d", len(body.Pages), expected)
	}

	pages := make([][]byte, 0, len(body.Pages))
	for i, encoded := range body.Pages {
		png, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", i+1, err)
		}
		pages = append(pages, png)
	}
	return pages, nil
}
