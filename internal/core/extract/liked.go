package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DetectLiked reports whether a film item carries the liked indicator. It
// tries the exact class combinations, then any element whose class list has
// all the configured tokens, then any class containing the fallback token.
func (e *Extractor) DetectLiked(item *goquery.Selection) bool {
	scope := item.Find("*").AddSelection(item)

	for _, sel := range e.sel.Liked.Exact {
		if scope.Filter(sel).Length() > 0 {
			return true
		}
	}

	if len(e.sel.Liked.Tokens) > 0 {
		found := false
		scope.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if hasAllTokens(classTokens(s), e.sel.Liked.Tokens) {
				found = true
			}
			return !found
		})
		if found {
			return true
		}
	}

	if tok := e.sel.Liked.FallbackToken; tok != "" {
		found := false
		scope.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, c := range classTokens(s) {
				if strings.Contains(c, tok) {
					found = true
					break
				}
			}
			return !found
		})
		return found
	}
	return false
}

func classTokens(s *goquery.Selection) []string {
	class, _ := s.Attr("class")
	return strings.Fields(class)
}

func hasAllTokens(have, want []string) bool {
	for _, w := range want {
		ok := false
		for _, h := range have {
			if h == w {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
