package models

// Plan is a published collection schedule PDF and the 1-based pages holding its tables.
type Plan struct {
	URL   string `json:"url" yaml:"url"`
	Pages []int  `json:"pages" yaml:"-"`
}

// Table is a grid of cell strings extracted from a PDF page. Empty cells are "".
type Table [][]string

// Schedule is the lookup result for one district.
type Schedule struct {
	Landkreis string   `json:"landkreis"`
	District  string   `json:"district"`
	Dates     []string `json:"dates"`
	Cached    bool     `json:"-"`
}
