package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/nameutil"
)

// htmlScraper pulls stream references out of a web page. Anchors whose
// href is a recognised stream reference are paired with a title found by
// walking up from the anchor looking for elements carrying the source's
// target class. Text that appears next to every anchor is page chrome and
// is rejected.
type htmlScraper struct {
	cfg    config.HTMLSourceConfig
	filter *TitleFilter
	fetch  fetchFunc
	logger *slog.Logger
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func newHTMLScraper(cfg config.HTMLSourceConfig, fetch fetchFunc, logger *slog.Logger) (*htmlScraper, error) {
	filter, err := NewTitleFilter(cfg.TitleFilter)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}
	return &htmlScraper{cfg: cfg, filter: filter, fetch: fetch, logger: logger}, nil
}

func (s *htmlScraper) scrape(ctx context.Context) ([]FoundStream, error) {
	body, err := s.fetch(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.URL, err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.cfg.URL, err)
	}

	anchors := collectStreamAnchors(doc)
	if len(anchors) == 0 {
		return nil, nil
	}

	// Gather title candidates per anchor, then drop the ones shared by
	// every anchor.
	candidates := make([][]string, len(anchors))
	for i, a := range anchors {
		candidates[i] = s.titleCandidates(a)
	}
	chrome := sharedAcross(candidates)

	var found []FoundStream
	for i, a := range anchors {
		title := ""
		for _, cand := range candidates[i] {
			if !chrome[cand] {
				title = cand
				break
			}
		}
		if title == "" {
			continue
		}

		title = s.filter.Postprocess(title)
		if title == "" || !s.filter.Allows(title) {
			continue
		}

		href := attrValue(a, "href")
		stream := FoundStream{Title: title, Source: s.cfg.Name}
		if id, ok := nameutil.ExtractContentID(href); ok {
			stream.ContentID = id
		} else if ih, ok := nameutil.ExtractInfohash(href); ok {
			stream.Infohash = ih
		} else {
			continue
		}
		found = append(found, stream)
	}

	return found, nil
}

// titleCandidates walks from the anchor towards the document root,
// collecting the text of elements that carry the target class. With
// check_sibling set, branches before each ancestor are scanned as well;
// some sites keep the channel name in a preceding block.
func (s *htmlScraper) titleCandidates(anchor *html.Node) []string {
	var out []string
	seen := make(map[string]bool)

	add := func(n *html.Node) {
		if !hasClass(n, s.cfg.TargetClass) {
			return
		}
		text := strings.TrimSpace(nodeText(n))
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		out = append(out, text)
	}

	// Branches holding a different stream anchor belong to another entry
	// and never contribute candidates here.
	collect := func(root *html.Node) {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode || subtreeHasOtherAnchor(c, anchor) {
					continue
				}
				add(c)
				walk(c)
			}
		}
		walk(root)
	}

	for n := anchor; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			add(n)
			collect(n)
		}
		if s.cfg.CheckSibling {
			for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
				if sib.Type != html.ElementNode || subtreeHasOtherAnchor(sib, anchor) {
					continue
				}
				add(sib)
				collect(sib)
			}
		}
	}
	return out
}

// subtreeHasOtherAnchor reports whether the subtree contains a stream
// anchor other than self.
func subtreeHasOtherAnchor(n, self *html.Node) bool {
	if n.Type == html.ElementNode && n.Data == "a" && n != self &&
		nameutil.HasStreamRefPrefix(attrValue(n, "href")) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if subtreeHasOtherAnchor(c, self) {
			return true
		}
	}
	return false
}

// collectStreamAnchors finds every <a> whose href is a stream reference.
func collectStreamAnchors(doc *html.Node) []*html.Node {
	var anchors []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if nameutil.HasStreamRefPrefix(attrValue(n, "href")) {
				anchors = append(anchors, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return anchors
}

// sharedAcross returns the candidate texts present for every anchor.
// A single anchor has no basis for comparison.
func sharedAcross(candidates [][]string) map[string]bool {
	shared := make(map[string]bool)
	if len(candidates) < 2 {
		return shared
	}

	counts := make(map[string]int)
	for _, list := range candidates {
		for _, cand := range list {
			counts[cand]++
		}
	}
	for cand, n := range counts {
		if n == len(candidates) {
			shared[cand] = true
		}
	}
	return shared
}

func hasClass(n *html.Node, class string) bool {
	if class == "" || n.Type != html.ElementNode {
		return false
	}
	for _, token := range strings.Fields(attrValue(n, "class")) {
		if strings.EqualFold(token, class) {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// nodeText concatenates all text beneath a node.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
