package normalize

// LogicalType is the lakehouse column type vocabulary shared by the parquet
// writer and the schema catalog
type LogicalType string

const (
	TypeBigint    LogicalType = "bigint"
	TypeInt       LogicalType = "int"
	TypeDouble    LogicalType = "double"
	TypeBoolean   LogicalType = "boolean"
	TypeTimestamp LogicalType = "timestamp"
	TypeString    LogicalType = "string"
)

// Column pairs a column name with its resolved logical type
type Column struct {
	Name string
	Type LogicalType
}

// TableSpec declares the identity and typing contract of a curated table
type TableSpec struct {
	Name        string
	PrimaryKeys []string
	TypeHints   map[string]LogicalType
}

// CommonTypeHints apply to every curated table unless the table's own hints
// override them
var CommonTypeHints = map[string]LogicalType{
	"id":         TypeBigint,
	"gameId":     TypeBigint,
	"teamId":     TypeBigint,
	"teamid":     TypeBigint,
	"playerId":   TypeBigint,
	"athleteId":  TypeBigint,
	"venueId":    TypeBigint,
	"season":     TypeInt,
	"year":       TypeInt,
	"week":       TypeInt,
	"period":     TypeInt,
	"startTime":  TypeTimestamp,
	"startDate":  TypeTimestamp,
	"active":     TypeBoolean,
	"asof":       TypeString,
	"date":       TypeString,
	"seasonType": TypeString,
}

// TableSpecs registers every silver and gold table. Bronze tables carry no
// spec; their schemas are inferred from the payload.
var TableSpecs = map[string]TableSpec{
	"dim_teams": {
		Name:        "dim_teams",
		PrimaryKeys: []string{"teamId"},
		TypeHints: map[string]LogicalType{
			"school":       TypeString,
			"mascot":       TypeString,
			"abbreviation": TypeString,
			"conference":   TypeString,
		},
	},
	"dim_conferences": {
		Name:        "dim_conferences",
		PrimaryKeys: []string{"id"},
		TypeHints: map[string]LogicalType{
			"name":         TypeString,
			"abbreviation": TypeString,
			"shortName":    TypeString,
		},
	},
	"dim_venues": {
		Name:        "dim_venues",
		PrimaryKeys: []string{"id"},
		TypeHints: map[string]LogicalType{
			"name":    TypeString,
			"city":    TypeString,
			"state":   TypeString,
			"country": TypeString,
		},
	},
	"dim_lines_providers": {
		Name:        "dim_lines_providers",
		PrimaryKeys: []string{"id"},
		TypeHints:   map[string]LogicalType{"name": TypeString},
	},
	"dim_play_types": {
		Name:        "dim_play_types",
		PrimaryKeys: []string{"id"},
		TypeHints:   map[string]LogicalType{"name": TypeString},
	},
	"fct_games": {
		Name:        "fct_games",
		PrimaryKeys: []string{"gameId"},
		TypeHints: map[string]LogicalType{
			"homeTeamId":     TypeBigint,
			"awayTeamId":     TypeBigint,
			"homePoints":     TypeInt,
			"awayPoints":     TypeInt,
			"neutralSite":    TypeBoolean,
			"conferenceGame": TypeBoolean,
			"startTimeTbd":   TypeBoolean,
			"status":         TypeString,
			"clock":          TypeString,
		},
	},
	"fct_game_media": {
		Name:        "fct_game_media",
		PrimaryKeys: []string{"gameId"},
		TypeHints:   map[string]LogicalType{"broadcasts": TypeString},
	},
	"fct_game_teams": {
		Name:        "fct_game_teams",
		PrimaryKeys: []string{"gameId", "teamId"},
		TypeHints: map[string]LogicalType{
			"isHome":        TypeBoolean,
			"points":        TypeInt,
			"teamStats":     TypeString,
			"opponentStats": TypeString,
		},
	},
	"fct_game_players": {
		Name:        "fct_game_players",
		PrimaryKeys: []string{"gameId", "playerId"},
		TypeHints:   map[string]LogicalType{"players": TypeString},
	},
	"fct_lines": {
		Name:        "fct_lines",
		PrimaryKeys: []string{"gameId", "provider"},
		TypeHints: map[string]LogicalType{
			"provider":      TypeString,
			"spread":        TypeDouble,
			"overUnder":     TypeDouble,
			"homeMoneyline": TypeInt,
			"awayMoneyline": TypeInt,
			"spreadOpen":    TypeDouble,
			"overUnderOpen": TypeDouble,
		},
	},
	"fct_plays": {
		Name:        "fct_plays",
		PrimaryKeys: []string{"id"},
		TypeHints: map[string]LogicalType{
			"playType":              TypeString,
			"playText":              TypeString,
			"homeScore":             TypeInt,
			"awayScore":             TypeInt,
			"secondsRemaining":      TypeInt,
			"scoringPlay":           TypeBoolean,
			"shootingPlay":          TypeBoolean,
			"wallclock":             TypeString,
			"onFloor":               TypeString,
			"participants":          TypeString,
			"shotInfo":              TypeString,
			"participant_id":        TypeBigint,
			"shot_shooter_id":       TypeBigint,
			"shot_shooter_name":     TypeString,
			"shot_made":             TypeBoolean,
			"shot_range":            TypeString,
			"shot_assisted":         TypeBoolean,
			"shot_assisted_by_id":   TypeBigint,
			"shot_assisted_by_name": TypeString,
			"shot_loc_x":            TypeDouble,
			"shot_loc_y":            TypeDouble,
			"onfloor_player1":       TypeBigint,
			"onfloor_player2":       TypeBigint,
			"onfloor_player3":       TypeBigint,
			"onfloor_player4":       TypeBigint,
			"onfloor_player5":       TypeBigint,
			"onfloor_player6":       TypeBigint,
			"onfloor_player7":       TypeBigint,
			"onfloor_player8":       TypeBigint,
			"onfloor_player9":       TypeBigint,
			"onfloor_player10":      TypeBigint,
		},
	},
	"fct_substitutions": {
		Name:        "fct_substitutions",
		PrimaryKeys: []string{"id"},
		TypeHints: map[string]LogicalType{
			"subIn":            TypeString,
			"subOut":           TypeString,
			"secondsRemaining": TypeInt,
		},
	},
	"fct_lineups": {
		Name:        "fct_lineups",
		PrimaryKeys: []string{"idhash"},
		TypeHints: map[string]LogicalType{
			"idhash":        TypeString,
			"totalseconds":  TypeDouble,
			"offenserating": TypeDouble,
			"defenserating": TypeDouble,
			"netrating":     TypeDouble,
			"athletes":      TypeString,
			"teamstats":     TypeString,
			"opponentstats": TypeString,
		},
	},
	"fct_rankings": {
		Name:        "fct_rankings",
		PrimaryKeys: []string{"season", "pollDate", "pollType", "teamId"},
		TypeHints: map[string]LogicalType{
			"pollDate":        TypeString,
			"pollType":        TypeString,
			"ranking":         TypeInt,
			"points":          TypeInt,
			"firstPlaceVotes": TypeInt,
		},
	},
	"fct_ratings_adjusted": {
		Name:        "fct_ratings_adjusted",
		PrimaryKeys: []string{"teamid", "season"},
		TypeHints: map[string]LogicalType{
			"offenserating":   TypeDouble,
			"defenserating":   TypeDouble,
			"netrating":       TypeDouble,
			"ranking_offense": TypeInt,
			"ranking_defense": TypeInt,
			"ranking_net":     TypeInt,
			"team":            TypeString,
			"conference":      TypeString,
		},
	},
	"fct_ratings_srs": {
		Name:        "fct_ratings_srs",
		PrimaryKeys: []string{"teamId", "season"},
		TypeHints: map[string]LogicalType{
			"rating":     TypeDouble,
			"team":       TypeString,
			"conference": TypeString,
		},
	},
	"fct_team_season_stats": {
		Name:        "fct_team_season_stats",
		PrimaryKeys: []string{"teamId", "season"},
		TypeHints:   map[string]LogicalType{"team": TypeString, "conference": TypeString},
	},
	"fct_team_season_shooting": {
		Name:        "fct_team_season_shooting",
		PrimaryKeys: []string{"teamId", "season"},
		TypeHints:   map[string]LogicalType{"team": TypeString, "conference": TypeString},
	},
	"fct_player_season_stats": {
		Name:        "fct_player_season_stats",
		PrimaryKeys: []string{"playerId", "season"},
		TypeHints:   map[string]LogicalType{"name": TypeString, "team": TypeString},
	},
	"fct_player_season_shooting": {
		Name:        "fct_player_season_shooting",
		PrimaryKeys: []string{"playerId", "season"},
		TypeHints:   map[string]LogicalType{"name": TypeString, "team": TypeString},
	},
	"fct_recruiting_players": {
		Name:        "fct_recruiting_players",
		PrimaryKeys: []string{"playerId", "season"},
		TypeHints: map[string]LogicalType{
			"name":        TypeString,
			"stars":       TypeInt,
			"ranking":     TypeInt,
			"rating":      TypeDouble,
			"committedTo": TypeString,
		},
	},
	"fct_draft_picks": {
		Name:        "fct_draft_picks",
		PrimaryKeys: []string{"athleteId"},
		TypeHints: map[string]LogicalType{
			"name":    TypeString,
			"overall": TypeInt,
			"round":   TypeInt,
			"pick":    TypeInt,
		},
	},
	"team_quality_daily": {
		Name:        "team_quality_daily",
		PrimaryKeys: []string{"teamid", "season", "asof"},
		TypeHints: map[string]LogicalType{
			"offenserating": TypeDouble,
			"defenserating": TypeDouble,
			"netrating":     TypeDouble,
		},
	},
	"market_lines_history": {
		Name:        "market_lines_history",
		PrimaryKeys: []string{"gameId", "provider", "asof"},
		TypeHints: map[string]LogicalType{
			"provider":  TypeString,
			"spread":    TypeDouble,
			"overUnder": TypeDouble,
		},
	},
}

// HintFor resolves the logical type for a column, preferring the table's own
// hints over the shared ones; ok is false when neither declares the column
func (s TableSpec) HintFor(column string) (LogicalType, bool) {
	if t, ok := s.TypeHints[column]; ok {
		return t, true
	}
	if t, ok := CommonTypeHints[column]; ok {
		return t, true
	}
	return "", false
}
