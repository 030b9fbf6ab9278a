package catalog

import (
	"context"
	"time"
)

// CandidateQuery selects one page of classified candidate sources
type CandidateQuery struct {
	Classifier     string
	ClassName      string
	MinProbability float64
	PageSize       int
	Page           int
	MinEpoch       float64 // earliest first-detection MJD
}

// Candidate is a source returned by the broker's object search
type Candidate struct {
	SourceID    string   `json:"oid"`
	MeanRA      *float64 `json:"meanra"`
	MeanDec     *float64 `json:"meandec"`
	FirstMJD    float64  `json:"firstmjd"`
	LastMJD     float64  `json:"lastmjd"`
	NumDet      int      `json:"ndet"`
	Class       string   `json:"class"`
	Probability float64  `json:"probability"`
}

// Detection is one photometric measurement of a source at one epoch in one band.
// (SourceID, MJD, BandID) identifies a detection.
type Detection struct {
	SourceID     string    `json:"oid"`
	MJD          float64   `json:"mjd"`
	Magnitude    float64   `json:"magpsf"`
	BandID       int       `json:"fid"`
	MagnitudeErr float64   `json:"sigmapsf"`
	RA           *float64  `json:"ra,omitempty"`
	Dec          *float64  `json:"dec,omitempty"`
	InsertedAt   time.Time `json:"-"`
}

// Client is the read-only view of the broker the harvester depends on
type Client interface {
	// QueryCandidates returns one page of candidates matching the query
	QueryCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	// QueryDetections returns the full detection history of a source
	QueryDetections(ctx context.Context, sourceID string) ([]Detection, error)
}

// objectsResponse is the paginated envelope of GET /objects
type objectsResponse struct {
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	HasNext bool        `json:"has_next"` //nolint:tagliatelle // ALeRCE API uses snake_case
	Items   []Candidate `json:"items"`
}
