package parser

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/wootoff-monitor/internal/config"
)

// Locator finds the markup region that holds the current sale item.
// Each implementation covers one anchor pattern.
type Locator interface {
	Name() string
	Locate(doc *goquery.Document) (*goquery.Selection, bool)
}

type idLocator struct {
	id string
}

// ByID anchors on an element id
func ByID(id string) Locator {
	return idLocator{id: id}
}

func (l idLocator) Name() string {
	return "id:" + l.id
}

func (l idLocator) Locate(doc *goquery.Document) (*goquery.Selection, bool) {
	sel := doc.FindMatcher(goquery.Single(fmt.Sprintf("[id=%q]", l.id)))
	return sel, sel.Length() > 0
}

type attrLocator struct {
	attr  string
	value string
}

// ByAttr anchors on the first element whose attribute equals value
func ByAttr(attr, value string) Locator {
	return attrLocator{attr: attr, value: value}
}

func (l attrLocator) Name() string {
	return fmt.Sprintf("attr:%s=%s", l.attr, l.value)
}

func (l attrLocator) Locate(doc *goquery.Document) (*goquery.Selection, bool) {
	sel := doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr(l.attr)
		return ok && v == l.value
	}).First()
	return sel, sel.Length() > 0
}

type selectorLocator struct {
	selector string
}

// BySelector anchors on the first element matching a CSS selector
func BySelector(selector string) Locator {
	return selectorLocator{selector: selector}
}

func (l selectorLocator) Name() string {
	return "selector:" + l.selector
}

func (l selectorLocator) Locate(doc *goquery.Document) (*goquery.Selection, bool) {
	sel := doc.Find(l.selector).First()
	return sel, sel.Length() > 0
}

// LocatorsFromConfig builds the locator chain in configured order
func LocatorsFromConfig(regions []config.RegionConfig) ([]Locator, error) {
	locators := make([]Locator, 0, len(regions))
	for _, r := range regions {
		switch r.Kind {
		case "id":
			locators = append(locators, ByID(r.Value))
		case "attr":
			locators = append(locators, ByAttr(r.Attr, r.Value))
		case "selector":
			locators = append(locators, BySelector(r.Value))
		default:
			return nil, fmt.Errorf("unknown region kind %q", r.Kind)
		}
	}
	return locators, nil
}
