package horoscope

import (
	"context"
	"devi/devi/utils/logging"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var Signs = []string{
	"aries", "taurus", "gemini", "cancer", "leo", "virgo",
	"libra", "scorpio", "sagittarius", "capricorn", "aquarius", "pisces",
}

// Fetcher reads the daily horoscope from a public page.
// URLTemplate holds a {sign} placeholder, e.g. https://example.com/daily/{sign}.
type Fetcher struct {
	URLTemplate string
	Selector    string
	MaxChars    int
	client      *http.Client

	mu    sync.Mutex
	cache map[string]cached
	now   func() time.Time
}

type cached struct {
	day  string
	text string
}

func NewFetcher(urlTemplate, selector string) *Fetcher {
	if selector == "" {
		selector = "main p"
	}
	return &Fetcher{
		URLTemplate: urlTemplate,
		Selector:    selector,
		MaxChars:    1000,
		client:      &http.Client{Timeout: 15 * time.Second},
		cache:       map[string]cached{},
		now:         time.Now,
	}
}

func IsSign(sign string) bool {
	sign = strings.ToLower(strings.TrimSpace(sign))
	for _, s := range Signs {
		if s == sign {
			return true
		}
	}
	return false
}

// Today returns the horoscope text for sign, cached for the calendar day.
func (f *Fetcher) Today(ctx context.Context, sign string) (string, error) {
	sign = strings.ToLower(strings.TrimSpace(sign))
	if !IsSign(sign) {
		return "", fmt.Errorf("unknown sign %q", sign)
	}
	day := f.now().Format("2006-01-02")

	f.mu.Lock()
	if c, ok := f.cache[sign]; ok && c.day == day {
		f.mu.Unlock()
		return c.text, nil
	}
	f.mu.Unlock()

	defer logging.LogDuration(ctx, "horoscope_fetch")()
	text, err := f.fetch(ctx, strings.ReplaceAll(f.URLTemplate, "{sign}", sign))
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[sign] = cached{day: day, text: text}
	f.mu.Unlock()
	return text, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("horoscope %s: bad status: %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	var parts []string
	doc.Find(f.Selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	text := strings.Join(parts, " ")
	if text == "" {
		// selector missed, fall back to all visible text
		logging.AppLogger.Warn("horoscope selector matched nothing",
			zap.String("url", url), zap.String("selector", f.Selector))
		doc.Find("script, style, nav, footer, header").Remove()
		if len(doc.Nodes) > 0 {
			text = extractText(doc.Nodes[0])
		}
	}
	return truncate(collapseSpaces(text), f.MaxChars), nil
}

// extractText walks the node tree and joins text nodes.
func extractText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return sb.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := strings.LastIndex(s[:max], " ")
	if cut <= 0 {
		cut = max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}
	return s[:cut]
}
