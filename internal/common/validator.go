package common

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var targetIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MaxPage is the highest page the catalog serves.
const MaxPage = 1000

var (
	// ErrInvalidPage is returned for page numbers outside [1, MaxPage].
	ErrInvalidPage = errors.New("invalid page number, must be between 1 and 1000")
	// ErrEmptyQuery is returned for blank search queries.
	ErrEmptyQuery = errors.New("invalid search query, must not be empty")
	// ErrInvalidMovieID is returned for non positive movie ids.
	ErrInvalidMovieID = errors.New("invalid movie id, must be a positive number")
	// ErrInvalidPosterSize is returned for unknown poster size segments.
	ErrInvalidPosterSize = errors.New("invalid poster size, only w92 and w154 are supported")
	// ErrInvalidResolution is returned for unknown poster resolution tags.
	ErrInvalidResolution = errors.New("invalid poster resolution, only thumbnail and full are supported")
	// ErrInvalidTargetID is returned for render target ids that can't name a websocket channel.
	ErrInvalidTargetID = errors.New("invalid target id")
)

// ValidatePage checks if the page number is accepted by the catalog.
func ValidatePage(page int) error {
	if page < 1 || page > MaxPage {
		return ErrInvalidPage
	}

	return nil
}

// ParsePage parses and validates a page query parameter. An empty value means the first page.
func ParsePage(s string) (int, error) {
	if s == "" {
		return 1, nil
	}

	page, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidPage
	}

	return page, ValidatePage(page)
}

// NormalizeQuery trims a search query and converts it to Unicode NFC, so equivalent
// spellings produce the same request.
func NormalizeQuery(query string) string {
	return norm.NFC.String(strings.TrimSpace(query))
}

// ValidateQuery checks that the normalized query isn't empty.
func ValidateQuery(query string) error {
	if NormalizeQuery(query) == "" {
		return ErrEmptyQuery
	}

	return nil
}

// ValidateMovieID checks if the given movie id is valid.
func ValidateMovieID(id int) error {
	if id <= 0 {
		return ErrInvalidMovieID
	}

	return nil
}

// ParseMovieID parses and validates a movie id path parameter.
func ParseMovieID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidMovieID
	}

	return id, ValidateMovieID(id)
}

// ValidatePosterSize checks if the size segment is one of the served poster sizes.
func ValidatePosterSize(size string) error {
	if size != "w92" && size != "w154" {
		return ErrInvalidPosterSize
	}

	return nil
}

// ValidateTargetID checks that a render target id is short and made of letters, digits, '-' or '_'.
func ValidateTargetID(id string) error {
	if !targetIDRE.MatchString(id) {
		return ErrInvalidTargetID
	}

	return nil
}
