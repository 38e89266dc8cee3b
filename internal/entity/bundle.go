package entity

import "time"

// Link is one external media link inside a bundle. Links have no identity of
// their own, they live and die with their bundle.
type Link struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// Bundle is a named, ordered collection of external media links. It is the
// aggregate the export pipeline operates on.
type Bundle struct {
	ID          string // Stable hash of the source folder path
	Name        string // Display name from frontmatter, or the folder name
	PageContent string // HTML page rendered from the descriptor markdown
	PageHash    string // ETag
	Enabled     bool
	Links       []Link    // Ordered list of media links
	SourcePath  string    // Internal path to the descriptor folder on disk
	CreatedAt   time.Time // Time of first indexing
}

// BundleInfo is the listing view of a bundle.
type BundleInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LinkCount int    `json:"linkCount"`
}
