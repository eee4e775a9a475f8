// Package observe fetches monitoring-target pages and turns them into
// structured observations for the change detector.
package observe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

// Source produces an Observation for a monitoring target.
type Source interface {
	Observe(ctx context.Context, target *models.MonitoringTarget) (*models.Observation, error)
}

var (
	amountPattern = regexp.MustCompile(`(?:\$|€|£|USD |EUR |GBP )\s?(\d{1,6}(?:,\d{3})*(?:\.\d{1,2})?)`)
	currencyMap   = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "USD": "USD", "EUR": "EUR", "GBP": "GBP"}
	handlePattern = regexp.MustCompile(`@[A-Za-z0-9_]{2,30}`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// planWords are the tier names commonly seen on pricing pages.
var planWords = []string{"free", "basic", "starter", "pro", "professional", "team", "business", "premium", "enterprise"}

type WebSource struct {
	httpClient  *http.Client
	maxKeywords int
}

func NewWebSource(timeoutSec int) *WebSource {
	if timeoutSec <= 0 {
		timeoutSec = 15
	}
	return &WebSource{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		maxKeywords: 25,
	}
}

// Observe resolves the target query to a page and extracts the structured
// fields the detector diffs. A query that is already a URL is fetched
// directly; anything else goes through a web search first.
func (s *WebSource) Observe(ctx context.Context, target *models.MonitoringTarget) (*models.Observation, error) {
	logger.Debug("Fetching observation",
		zap.String("target_id", target.ID),
		zap.String("query", target.Query),
	)

	pageURL := target.Query
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		resolved, err := s.resolveQuery(ctx, target.Query)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve query %q: %w", target.Query, err)
		}
		pageURL = resolved
	}

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	return s.observationFromDocument(doc), nil
}

// resolveQuery turns a plain-text query into the URL of its top search hit.
func (s *WebSource) resolveQuery(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("https://www.google.com/search?q=%s&num=5", url.QueryEscape(query))
	doc, err := s.fetchDocument(ctx, searchURL)
	if err != nil {
		return "", err
	}

	var resolved string
	doc.Find("div.g a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			resolved = href
			return false
		}
		return true
	})
	if resolved == "" {
		return "", fmt.Errorf("no results")
	}
	return resolved, nil
}

func (s *WebSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MarketPulseBot/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s returned status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func (s *WebSource) observationFromDocument(doc *goquery.Document) *models.Observation {
	links := extractLinks(doc)

	doc.Find("script, style, nav, footer, header, aside").Each(func(_ int, sel *goquery.Selection) {
		sel.Remove()
	})
	text := spacePattern.ReplaceAllString(doc.Find("body").Text(), " ")
	text = strings.TrimSpace(text)

	return &models.Observation{
		Content: text,
		Extracted: models.ExtractedFields{
			URLs:          links,
			Keywords:      s.extractKeywords(text),
			Pricing:       extractPricing(text),
			SocialHandles: extractHandles(text),
		},
		ObservedAt: time.Now(),
	}
}

func extractLinks(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	sort.Strings(links)
	return links
}

func extractPricing(text string) models.PricingInfo {
	var info models.PricingInfo

	seenCurrency := make(map[string]struct{})
	for _, match := range amountPattern.FindAllStringSubmatch(text, -1) {
		raw := strings.ReplaceAll(match[1], ",", "")
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		info.Amounts = append(info.Amounts, amount)

		symbol := strings.TrimSpace(strings.TrimSuffix(match[0], match[1]))
		if code, ok := currencyMap[symbol]; ok {
			if _, dup := seenCurrency[code]; !dup {
				seenCurrency[code] = struct{}{}
				info.Currencies = append(info.Currencies, code)
			}
		}
	}

	lower := strings.ToLower(text)
	for _, plan := range planWords {
		if containsWord(lower, plan) {
			info.Plans = append(info.Plans, plan)
		}
	}

	return info
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func extractHandles(text string) []string {
	seen := make(map[string]struct{})
	var handles []string
	for _, h := range handlePattern.FindAllString(text, -1) {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}

// extractKeywords picks named entities and frequent nouns from the page text.
// Tokenization failures degrade to an empty keyword list rather than failing
// the observation.
func (s *WebSource) extractKeywords(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) > 20000 {
		text = text[:20000]
	}

	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
	)
	if err != nil {
		logger.Debug("Keyword extraction failed", zap.Error(err))
		return nil
	}

	counts := make(map[string]int)
	for _, ent := range doc.Entities() {
		counts[strings.ToLower(ent.Text)] += 2
	}
	for _, tok := range doc.Tokens() {
		if tok.Tag == "NN" || tok.Tag == "NNP" || tok.Tag == "NNS" {
			word := strings.ToLower(tok.Text)
			if len(word) > 2 {
				counts[word]++
			}
		}
	}

	type scored struct {
		word  string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for word, count := range counts {
		ranked = append(ranked, scored{word, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	limit := s.maxKeywords
	if limit > len(ranked) {
		limit = len(ranked)
	}
	keywords := make([]string, 0, limit)
	for _, entry := range ranked[:limit] {
		keywords = append(keywords, entry.word)
	}
	return keywords
}
