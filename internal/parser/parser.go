package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/types"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// ErrParseFailed means no locator found the sale region: the layout changed
// or the site served an error page
var ErrParseFailed = errors.New("parse failed")

var numberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// Marker derives a status from the page. A marker with a selector matches
// when the selector finds an element anywhere in the document (and, if Text
// is set, that element's text contains it). A text-only marker matches
// against the sale region's text with the title and price nodes left out.
// Selector markers are tried first, in order; text-only markers are a
// fallback. Comparison is case-insensitive.
type Marker struct {
	Status   types.Status
	Selector string
	Text     string
}

type Parser struct {
	locators       []Locator
	titleSelectors []string
	priceSelectors []string
	markers        []Marker
}

func New(locators []Locator, titleSelectors, priceSelectors []string, markers []Marker) *Parser {
	return &Parser{
		locators:       locators,
		titleSelectors: titleSelectors,
		priceSelectors: priceSelectors,
		markers:        markers,
	}
}

// FromConfig builds a parser from the parser config section
func FromConfig(cfg config.ParserConfig) (*Parser, error) {
	locators, err := LocatorsFromConfig(cfg.Regions)
	if err != nil {
		return nil, err
	}

	markers := make([]Marker, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		status, err := types.ParseStatus(m.Status)
		if err != nil {
			return nil, fmt.Errorf("marker: %w", err)
		}
		markers = append(markers, Marker{Status: status, Selector: m.Selector, Text: m.Text})
	}

	return New(locators, cfg.TitleSelectors, cfg.PriceSelectors, markers), nil
}

// Parse extracts a Snapshot from a fetched page
func (p *Parser) Parse(html string, fetchedAt time.Time) (types.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	region, source, ok := p.locate(doc)
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: no sale region matched %s", ErrParseFailed, p.locatorNames())
	}

	title, titleNode := firstText(region, p.titleSelectors)
	price, priceNode := firstText(region, p.priceSelectors)

	return types.Snapshot{
		Title:      title,
		Price:      price,
		PriceValue: parsePrice(price),
		Status:     p.status(doc, regionText(region, titleNode, priceNode)),
		FetchedAt:  fetchedAt,
		Source:     source,
	}, nil
}

func (p *Parser) locate(doc *goquery.Document) (*goquery.Selection, string, bool) {
	for _, l := range p.locators {
		if sel, ok := l.Locate(doc); ok {
			return sel, l.Name(), true
		}
	}
	return nil, "", false
}

func (p *Parser) locatorNames() string {
	names := make([]string, len(p.locators))
	for i, l := range p.locators {
		names[i] = l.Name()
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// status returns the first matching marker's status, UNKNOWN if none match
func (p *Parser) status(doc *goquery.Document, text string) types.Status {
	for _, m := range p.markers {
		if m.Selector != "" && selectorMatches(doc, m) {
			return m.Status
		}
	}

	text = strings.ToLower(Normalize(text))
	for _, m := range p.markers {
		if m.Selector == "" && m.Text != "" && strings.Contains(text, strings.ToLower(m.Text)) {
			return m.Status
		}
	}
	return types.StatusUnknown
}

func selectorMatches(doc *goquery.Document, m Marker) bool {
	needle := strings.ToLower(m.Text)
	matched := false
	doc.Find(m.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if needle == "" || strings.Contains(strings.ToLower(Normalize(s.Text())), needle) {
			matched = true
			return false
		}
		return true
	})
	return matched
}

// regionText concatenates the region's text nodes, skipping the subtrees of
// the excluded selections
func regionText(region *goquery.Selection, exclude ...*goquery.Selection) string {
	skip := make(map[*html.Node]bool)
	for _, sel := range exclude {
		if sel == nil {
			continue
		}
		for _, n := range sel.Nodes {
			skip[n] = true
		}
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if skip[n] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range region.Nodes {
		walk(n)
	}
	return b.String()
}

// firstText returns the text of the first selector hit with content, and the
// node it came from
func firstText(region *goquery.Selection, selectors []string) (string, *goquery.Selection) {
	for _, sel := range selectors {
		found := region.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		if text := Normalize(found.Text()); text != "" {
			return text, found
		}
		if content, ok := found.Attr("content"); ok {
			if text := Normalize(content); text != "" {
				return text, found
			}
		}
	}
	return "", nil
}

// Normalize collapses whitespace runs and applies NFC
func Normalize(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func parsePrice(price string) decimal.NullDecimal {
	match := numberRegex.FindString(price)
	if match == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
