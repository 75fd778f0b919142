package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/gowebpki/jcs"
)

// EndpointType classifies how an endpoint is enumerated into API calls
type EndpointType string

const (
	// EndpointSnapshot is fetched once per run with no parameters
	EndpointSnapshot EndpointType = "snapshot"
	// EndpointSeason is fetched once per season, optionally split into date chunks
	EndpointSeason EndpointType = "season"
	// EndpointDate is fetched once per day over a rolling window
	EndpointDate EndpointType = "date"
	// EndpointGameFanout is fetched once per game id
	EndpointGameFanout EndpointType = "game_fanout"
	// EndpointPlayerFanout is fetched once per player id (or per player-season pair)
	EndpointPlayerFanout EndpointType = "player_fanout"
)

// EndpointSpec describes one upstream API endpoint. Specs are loaded from
// configuration once at startup and never mutated afterwards.
type EndpointSpec struct {
	Name           string       `mapstructure:"name"`
	Path           string       `mapstructure:"path"`
	Type           EndpointType `mapstructure:"type"`
	SeasonParam    string       `mapstructure:"season_param"`
	DateParam      string       `mapstructure:"date_param"`
	StartDateParam string       `mapstructure:"start_date_param"`
	EndDateParam   string       `mapstructure:"end_date_param"`
	RequiredParams []string     `mapstructure:"required_params"`
	// RequiredAny lists groups where at least one param of each group must be present
	RequiredAny [][]string `mapstructure:"required_any"`
	// ChunkDays overrides the global date-chunk length for season endpoints
	// that declare a start/end date window
	ChunkDays int `mapstructure:"chunk_days"`
}

var pathParamPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Validate checks the spec for startup-time configuration errors
func (s EndpointSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if s.Path == "" {
		return fmt.Errorf("endpoint %s: path is required", s.Name)
	}
	switch s.Type {
	case EndpointSnapshot, EndpointSeason, EndpointDate, EndpointGameFanout, EndpointPlayerFanout:
	default:
		return fmt.Errorf("endpoint %s: unknown type %q", s.Name, s.Type)
	}
	if (s.StartDateParam == "") != (s.EndDateParam == "") {
		return fmt.Errorf("endpoint %s: start_date_param and end_date_param must be set together", s.Name)
	}
	return nil
}

// HasDateWindow reports whether the endpoint declares a start/end date window
// and therefore gets chunked season dispatch
func (s EndpointSpec) HasDateWindow() bool {
	return s.StartDateParam != "" && s.EndDateParam != ""
}

// PathParams returns the set of parameter names referenced by the path template
func (s EndpointSpec) PathParams() map[string]bool {
	out := make(map[string]bool)
	for _, m := range pathParamPattern.FindAllStringSubmatch(s.Path, -1) {
		out[m[1]] = true
	}
	return out
}

// ResolvePath substitutes path-template parameters into the URL path and
// returns the remaining parameters to send as the query string
func (s EndpointSpec) ResolvePath(params Params) (string, Params) {
	pathParams := s.PathParams()
	path := pathParamPattern.ReplaceAllStringFunc(s.Path, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := params[name]; ok {
			return fmt.Sprint(v)
		}
		return token
	})
	query := make(Params, len(params))
	for k, v := range params {
		if !pathParams[k] {
			query[k] = v
		}
	}
	return path, query
}

// MissingRequired reports whether the resolved params fail the spec's
// required-parameter constraints
func (s EndpointSpec) MissingRequired(params Params) bool {
	for _, p := range s.RequiredParams {
		if _, ok := params[p]; !ok {
			return true
		}
	}
	for _, group := range s.RequiredAny {
		found := false
		for _, p := range group {
			if _, ok := params[p]; ok {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// RequiresSeason reports whether a fan-out endpoint must be called per
// (id, season) pair rather than per id alone
func (s EndpointSpec) RequiresSeason() bool {
	for _, p := range s.RequiredParams {
		if p == "season" {
			return true
		}
	}
	return false
}

// Params is the resolved query-parameter set for exactly one API call
type Params map[string]any

// Fingerprint returns a stable hex digest of the parameter set. Two Params
// with identical contents hash identically regardless of key order; the
// digest is the idempotency key for every artifact the call produces.
func (p Params) Fingerprint() string {
	raw, err := json.Marshal(p)
	if err != nil {
		// Params only ever hold JSON-encodable scalars
		raw = []byte(fmt.Sprintf("%v", map[string]any(p)))
	}
	if canonical, err := jcs.Transform(raw); err == nil {
		raw = canonical
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns the first 8 hex characters of the fingerprint,
// used as the part-file naming token
func (p Params) ShortFingerprint() string {
	return p.Fingerprint()[:8]
}

// Record is one opaque structured record returned by the API, prior to any
// schema coercion
type Record = map[string]any

// CoerceRecords normalizes the three upstream response shapes (bare array,
// object with a "data" array, single object) to a list of records
func CoerceRecords(resp any) []Record {
	switch v := resp.(type) {
	case nil:
		return nil
	case []any:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			}
		}
		return out
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			out := make([]Record, 0, len(data))
			for _, item := range data {
				if rec, ok := item.(map[string]any); ok {
					out = append(out, rec)
				}
			}
			return out
		}
		return []Record{v}
	default:
		return nil
	}
}

// CheckpointPayload is the value persisted per (endpoint, fingerprint).
// Written only after a unit of work fully succeeds.
type CheckpointPayload struct {
	LastCompletedSeason int    `json:"last_completed_season,omitempty"`
	LastIngestedDate    string `json:"last_ingested_date,omitempty"`
	GameID              int64  `json:"game_id,omitempty"`
	Season              int    `json:"season,omitempty"`
}

// GameRef identifies one game discovered for fan-out, with the season and
// date context used for partitioning its dependent tables
type GameRef struct {
	ID     int64
	Season *int
	Date   string
}

// DeadLetterEntry records a failed or empty unit of work
type DeadLetterEntry struct {
	Endpoint  string    `json:"endpoint"`
	Params    Params    `json:"params"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// EndpointSummary aggregates one endpoint's outcome within a run
type EndpointSummary struct {
	Rows      int       `json:"rows"`
	Timestamp time.Time `json:"timestamp"`
}

// RunSummary is the per-run statistics manifest
type RunSummary struct {
	RunID      string                     `json:"run_id"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt *time.Time                 `json:"finished_at,omitempty"`
	Endpoints  map[string]EndpointSummary `json:"endpoints"`
}

// NewRunSummary creates an empty summary for a new run
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartedAt: startedAt,
		Endpoints: make(map[string]EndpointSummary),
	}
}

// ValidateRegistry validates every endpoint spec and fills the Name field
// from the registry key; invalid definitions fail fast at startup
func ValidateRegistry(registry map[string]EndpointSpec) (map[string]EndpointSpec, error) {
	out := make(map[string]EndpointSpec, len(registry))
	for name, spec := range registry {
		if spec.Name == "" {
			spec.Name = name
		}
		if spec.Name != name {
			return nil, fmt.Errorf("endpoint %s: name mismatch with registry key %s", spec.Name, name)
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		out[name] = spec
	}
	return out, nil
}
