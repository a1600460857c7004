package extract

// RatingValues are the ten half-star values a bucket may carry.
var RatingValues = [10]float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5}

// RatingBucket is the number of films a user rated at one star value.
type RatingBucket struct {
	Rating float64 `json:"rating"`
	Count  int     `json:"count"`
}

// FilmRecord is one watched film. Rating 0 means watched but unrated.
type FilmRecord struct {
	Slug   string  `json:"film_slug"`
	Title  string  `json:"title"`
	Rating float64 `json:"rating,omitempty"`
	Liked  bool    `json:"liked"`
}

type ProfileSnapshot struct {
	DisplayName string `json:"display_name"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	ListCount   int    `json:"list_count"`
}

// KeyValueRecord is the untyped shape produced by the generic multi-field
// extraction path. Job-specific extraction always returns typed records.
type KeyValueRecord map[string]string

// Field names one value of a generic record. Attr empty means element text.
type Field struct {
	Name     string
	Selector string
	Attr     string
}

// Options tune extraction policy.
type Options struct {
	// EmitZeroBuckets includes every rating value in histogram output,
	// with count 0 for values the page did not show or showed as empty.
	EmitZeroBuckets bool
}
