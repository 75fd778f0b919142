package lake

// Layout holds the top-level key prefixes of the lakehouse bucket
type Layout struct {
	RawPrefix        string
	BronzePrefix     string
	SilverPrefix     string
	GoldPrefix       string
	RefPrefix        string
	MetaPrefix       string
	DeadletterPrefix string
	TmpPrefix        string
	AthenaPrefix     string
}

// DefaultLayout is the canonical bucket layout
var DefaultLayout = Layout{
	RawPrefix:        "raw",
	BronzePrefix:     "bronze",
	SilverPrefix:     "silver",
	GoldPrefix:       "gold",
	RefPrefix:        "ref",
	MetaPrefix:       "meta",
	DeadletterPrefix: "deadletter",
	TmpPrefix:        "tmp",
	AthenaPrefix:     "athena",
}

// All returns every prefix in the layout
func (l Layout) All() []string {
	return []string{
		l.RawPrefix, l.BronzePrefix, l.SilverPrefix, l.GoldPrefix,
		l.RefPrefix, l.MetaPrefix, l.DeadletterPrefix, l.TmpPrefix, l.AthenaPrefix,
	}
}

// Catalog database names per layer
const (
	BronzeDatabase = "cbbd_bronze"
	SilverDatabase = "cbbd_silver"
)

// BronzeTables maps every endpoint to its bronze table. Bronze mirrors the
// endpoint one to one.
var BronzeTables = map[string]string{
	"conferences":                  "conferences",
	"conferences_history":          "conferences_history",
	"draft_picks":                  "draft_picks",
	"draft_positions":              "draft_positions",
	"draft_teams":                  "draft_teams",
	"games":                        "games",
	"games_media":                  "games_media",
	"games_players":                "games_players",
	"games_teams":                  "games_teams",
	"lines":                        "lines",
	"lines_providers":              "lines_providers",
	"lineups_game":                 "lineups_game",
	"lineups_team":                 "lineups_team",
	"plays_types":                  "plays_types",
	"plays_game":                   "plays_game",
	"plays_date":                   "plays_date",
	"plays_player":                 "plays_player",
	"plays_team":                   "plays_team",
	"plays_tournament":             "plays_tournament",
	"substitutions_game":           "substitutions_game",
	"substitutions_player":         "substitutions_player",
	"substitutions_team":           "substitutions_team",
	"rankings":                     "rankings",
	"ratings_adjusted":             "ratings_adjusted",
	"ratings_srs":                  "ratings_srs",
	"recruiting_players":           "recruiting_players",
	"stats_player_shooting_season": "stats_player_shooting_season",
	"stats_player_season":          "stats_player_season",
	"stats_team_shooting_season":   "stats_team_shooting_season",
	"stats_team_season":            "stats_team_season",
	"teams":                        "teams",
	"teams_roster":                 "teams_roster",
	"venues":                       "venues",
}

// SilverTables maps endpoints to curated tables. The per-scope play,
// substitution and lineup endpoints collapse into shared fact tables.
var SilverTables = map[string]string{
	"teams":                        "dim_teams",
	"conferences":                  "dim_conferences",
	"venues":                       "dim_venues",
	"lines_providers":              "dim_lines_providers",
	"plays_types":                  "dim_play_types",
	"games":                        "fct_games",
	"games_media":                  "fct_game_media",
	"lines":                        "fct_lines",
	"games_teams":                  "fct_game_teams",
	"games_players":                "fct_game_players",
	"plays_game":                   "fct_plays",
	"plays_date":                   "fct_plays",
	"plays_player":                 "fct_plays",
	"plays_team":                   "fct_plays",
	"plays_tournament":             "fct_plays",
	"substitutions_game":           "fct_substitutions",
	"substitutions_player":         "fct_substitutions",
	"substitutions_team":           "fct_substitutions",
	"lineups_game":                 "fct_lineups",
	"lineups_team":                 "fct_lineups",
	"rankings":                     "fct_rankings",
	"ratings_adjusted":             "fct_ratings_adjusted",
	"ratings_srs":                  "fct_ratings_srs",
	"stats_team_season":            "fct_team_season_stats",
	"stats_team_shooting_season":   "fct_team_season_shooting",
	"stats_player_season":          "fct_player_season_stats",
	"stats_player_shooting_season": "fct_player_season_shooting",
	"recruiting_players":           "fct_recruiting_players",
	"draft_picks":                  "fct_draft_picks",
}

// GoldTables is the allow-list of endpoints that additionally project into
// gold history tables
var GoldTables = map[string]string{
	"ratings_adjusted": "team_quality_daily",
	"lines":            "market_lines_history",
}

// RawPrefixOverrides maps compound endpoint names onto nested raw prefixes
var RawPrefixOverrides = map[string]string{
	"plays_game":           "plays/game",
	"plays_date":           "plays/date",
	"plays_player":         "plays/player",
	"plays_team":           "plays/team",
	"plays_tournament":     "plays/tournament",
	"lineups_game":         "lineups/game",
	"substitutions_game":   "substitutions/game",
	"substitutions_player": "substitutions/player",
	"substitutions_team":   "substitutions/team",
}

// RawPrefixFor returns the raw-layer prefix for an endpoint
func RawPrefixFor(endpoint string) string {
	if override, ok := RawPrefixOverrides[endpoint]; ok {
		return override
	}
	return endpoint
}
