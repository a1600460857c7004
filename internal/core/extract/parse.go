package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

type starPattern struct {
	glyphs string
	value  float64
}

// Longest first: shorter patterns are substrings of longer ones.
var starPatterns = []starPattern{
	{"★★★★★", 5},
	{"★★★★½", 4.5},
	{"★★★★", 4},
	{"★★★½", 3.5},
	{"★★★", 3},
	{"★★½", 2.5},
	{"★★", 2},
	{"★½", 1.5},
	{"★", 1},
	{"½", 0.5},
}

// ParseRating returns the half-star value of the first star pattern found
// in text, or 0 when none matches.
func ParseRating(text string) float64 {
	for _, p := range starPatterns {
		if strings.Contains(text, p.glyphs) {
			return p.value
		}
	}
	return 0
}

var ratedClass = regexp.MustCompile(`\brated-(\d{1,2})\b`)

// ratingFromClass reads the "rated-N" class (N in tenths of five, 1..10).
func ratingFromClass(class string) float64 {
	m := ratedClass.FindStringSubmatch(class)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 10 {
		return 0
	}
	return float64(n) / 2
}

// ParseCount parses the comma-grouped integer a label starts with, e.g.
// "12,345 ratings". Anything else yields 0.
func ParseCount(text string) int {
	text = strings.TrimSpace(text)
	end := 0
	for end < len(text) && (text[end] >= '0' && text[end] <= '9' || text[end] == ',') {
		end++
	}
	digits := strings.ReplaceAll(text[:end], ",", "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

var structuredNumber = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([kKmM])?`)

// ParseStructuredNumber handles counters such as "1.2K", "3M" and "1,024".
func ParseStructuredNumber(text string) int {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	m := structuredNumber.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "k":
		f *= 1e3
	case "m":
		f *= 1e6
	}
	return int(math.Round(f))
}
