package entity

// Progress is the state of one in-flight bundle export. Processed counts
// links successfully appended to the archive, Total is the link count at
// export start. Done never reverts to false once set.
type Progress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
}
