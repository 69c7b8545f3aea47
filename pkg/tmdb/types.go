package tmdb

// Movie represents a catalog movie record.
// List endpoints return partial records, Runtime and Overview are only filled by a detail lookup.
type Movie struct {
	// ID is assigned by the catalog and never changes.
	ID          int    `json:"id"`
	Title       string `json:"title"`
	PosterPath  string `json:"poster_path,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
	// Runtime is the duration in minutes, zero when unknown.
	Runtime     int     `json:"runtime,omitempty"`
	Overview    string  `json:"overview,omitempty"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
}

// HasPoster reports whether the record carries a poster path.
func (m Movie) HasPoster() bool {
	return m.PosterPath != ""
}

// MoviesPage holds one page of a paginated movie list.
type MoviesPage struct {
	Page         int     `json:"page"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
	Results      []Movie `json:"results"`
}
