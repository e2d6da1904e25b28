package metadata

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gagliardetto/solana-go"
)

// OpenGraphProvider scrapes the explorer's token page. Titles look like
// "Bonk (BONK) | Explorer".
type OpenGraphProvider struct {
	baseURL string
	client  *http.Client
}

func NewOpenGraphProvider(explorerURL string, timeout time.Duration) *OpenGraphProvider {
	return &OpenGraphProvider{
		baseURL: strings.TrimRight(explorerURL, "/"),
		client:  newHTTPClient(timeout),
	}
}

func (p *OpenGraphProvider) Name() string { return "opengraph" }

var titleRe = regexp.MustCompile(`^\s*(.+?)\s*\(([^()]+)\)`)

func (p *OpenGraphProvider) Fetch(ctx context.Context, mint solana.PublicKey) (Info, error) {
	resp, err := get(ctx, p.client, fmt.Sprintf("%s/token/%s", p.baseURL, mint), "text/html")
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Info{}, fmt.Errorf("parse explorer page: %w", err)
	}
	return parseOpenGraph(doc)
}

func parseOpenGraph(doc *goquery.Document) (Info, error) {
	meta := func(property string) string {
		v, _ := doc.Find(fmt.Sprintf(`meta[property="%s"]`, property)).First().Attr("content")
		return strings.TrimSpace(v)
	}

	title := meta("og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	m := titleRe.FindStringSubmatch(title)
	if m == nil {
		return Info{}, ErrNotFound
	}
	return Info{
		Name:   m[1],
		Symbol: strings.TrimSpace(m[2]),
		Image:  strPtr(meta("og:image")),
	}, nil
}
