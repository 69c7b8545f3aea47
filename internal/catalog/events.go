package catalog

import "github.com/ogero/mmdb/pkg/tmdb"

// Event is the outcome of a catalog request. It is one of MoviesReceived, MovieDetailReceived or RequestFailed.
type Event interface {
	event()
}

// MoviesReceived carries a page of partial movie records.
type MoviesReceived struct {
	Movies []tmdb.Movie
	// Page is the page number the request asked for.
	Page int
	// TotalPages is the number of pages the catalog reports for the listing.
	TotalPages int
}

// MovieDetailReceived carries a full movie record.
type MovieDetailReceived struct {
	Movie tmdb.Movie
}

// RequestFailed carries the error of a failed request.
type RequestFailed struct {
	Err error
}

func (MoviesReceived) event()      {}
func (MovieDetailReceived) event() {}
func (RequestFailed) event()       {}

// Callback receives the single Event of a request.
type Callback func(Event)

// Observer receives catalog results through one method per outcome.
type Observer interface {
	MoviesReceived(movies []tmdb.Movie, page int)
	MovieDetailReceived(movie tmdb.Movie)
	RequestFailed(err error)
}

// Notify adapts an Observer to a Callback.
func Notify(o Observer) Callback {
	return func(e Event) {
		switch e := e.(type) {
		case MoviesReceived:
			o.MoviesReceived(e.Movies, e.Page)
		case MovieDetailReceived:
			o.MovieDetailReceived(e.Movie)
		case RequestFailed:
			o.RequestFailed(e.Err)
		}
	}
}
