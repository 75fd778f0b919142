package normalize

import (
	"fmt"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

// fillFrom copies the first non-nil fallback into the target key when the
// target is absent or null
func fillFrom(rec domain.Record, target string, fallbacks ...string) {
	if rec[target] != nil {
		return
	}
	for _, fb := range fallbacks {
		if v, ok := rec[fb]; ok && v != nil {
			rec[target] = v
			return
		}
	}
}

// ApplyKeyAliases repairs the upstream API's naming drift per curated table:
// id columns get their canonical spelling, nested composites are flattened
// or JSON-encoded, and tables that standardize on lowercase drop the
// camelCase duplicates that would collide in a case-insensitive catalog.
func ApplyKeyAliases(table string, records []domain.Record) []domain.Record {
	if len(records) == 0 {
		return records
	}
	switch table {
	case "fct_games":
		for _, rec := range records {
			fillFrom(rec, "gameId", "id", "gameid")
		}
	case "dim_teams":
		for _, rec := range records {
			fillFrom(rec, "teamId", "id", "teamid")
		}
	case "fct_game_teams":
		for _, rec := range records {
			fillFrom(rec, "gameId", "gameid")
			fillFrom(rec, "teamId", "teamid")
			fillFrom(rec, "isHome", "ishome")
			rec["teamStats"] = NormalizeJSONish(rec["teamStats"])
			rec["opponentStats"] = NormalizeJSONish(rec["opponentStats"])
		}
	case "fct_game_players":
		for _, rec := range records {
			fillFrom(rec, "gameId", "gameid")
			fillFrom(rec, "playerId", "playerid")
			rec["players"] = NormalizeJSONish(rec["players"])
		}
	case "fct_game_media":
		for _, rec := range records {
			fillFrom(rec, "gameId", "gameid")
			rec["broadcasts"] = NormalizeJSONish(rec["broadcasts"])
		}
	case "fct_plays":
		for _, rec := range records {
			aliasPlay(rec)
		}
	case "fct_lines":
		for _, rec := range records {
			fillFrom(rec, "gameId", "gameid")
		}
	case "fct_lineups":
		for _, rec := range records {
			aliasLineup(rec)
		}
	case "fct_player_season_stats", "fct_player_season_shooting":
		for _, rec := range records {
			fillFrom(rec, "playerId", "athleteId")
		}
	case "fct_recruiting_players":
		for _, rec := range records {
			fillFrom(rec, "playerId", "id", "athleteId")
			fillFrom(rec, "season", "year")
		}
	case "fct_ratings_adjusted":
		for _, rec := range records {
			aliasAdjustedRating(rec)
		}
	}
	return records
}

// aliasPlay flattens the play-by-play composites into scalar columns and
// keeps their JSON text alongside
func aliasPlay(rec domain.Record) {
	fillFrom(rec, "gameId", "gameid")

	onFloorRaw := rec["onFloor"]
	if onFloorRaw == nil {
		onFloorRaw = rec["onfloor"]
	}
	shotInfoRaw := rec["shotInfo"]
	if shotInfoRaw == nil {
		shotInfoRaw = rec["shotinfo"]
	}
	participantsRaw := rec["participants"]

	onFloor := ParseJSONish(onFloorRaw)
	participants := ParseJSONish(participantsRaw)
	shotInfo := ParseJSONish(shotInfoRaw)

	rec["onFloor"] = NormalizeJSONish(onFloorRaw)
	rec["participants"] = NormalizeJSONish(participantsRaw)
	rec["shotInfo"] = NormalizeJSONish(shotInfoRaw)

	if players, ok := onFloor.([]any); ok {
		var ids []*int64
		for _, p := range players {
			if m, ok := p.(map[string]any); ok {
				ids = append(ids, ToInt64(m["id"]))
			}
		}
		for i := 0; i < 10; i++ {
			col := fmt.Sprintf("onfloor_player%d", i+1)
			if i < len(ids) && ids[i] != nil {
				rec[col] = *ids[i]
			} else {
				rec[col] = nil
			}
		}
	}

	if list, ok := participants.([]any); ok {
		rec["participant_id"] = nil
		if len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				if id := ToInt64(first["id"]); id != nil {
					rec["participant_id"] = *id
				}
			}
		}
	}

	if info, ok := shotInfo.(map[string]any); ok {
		shooter, _ := info["shooter"].(map[string]any)
		assistedBy, _ := info["assistedBy"].(map[string]any)
		location, _ := info["location"].(map[string]any)
		rec["shot_shooter_id"] = deref(ToInt64(shooter["id"]))
		rec["shot_shooter_name"] = shooter["name"]
		rec["shot_made"] = deref(ToBool(info["made"]))
		rec["shot_range"] = info["range"]
		rec["shot_assisted"] = deref(ToBool(info["assisted"]))
		rec["shot_assisted_by_id"] = deref(ToInt64(assistedBy["id"]))
		rec["shot_assisted_by_name"] = assistedBy["name"]
		rec["shot_loc_x"] = deref(ToFloat64(location["x"]))
		rec["shot_loc_y"] = deref(ToFloat64(location["y"]))
	}
}

// aliasLineup standardizes lineups on lowercase column names and drops the
// camelCase duplicates that would clash in a case-insensitive catalog
func aliasLineup(rec domain.Record) {
	fillFrom(rec, "teamid", "teamId")
	fillFrom(rec, "idhash", "idHash")
	fillFrom(rec, "totalseconds", "totalSeconds")
	fillFrom(rec, "defenserating", "defenseRating")
	fillFrom(rec, "netrating", "netRating")
	fillFrom(rec, "offenserating", "offenseRating")

	if rec["opponentstats"] == nil {
		rec["opponentstats"] = NormalizeJSONish(rec["opponentStats"])
	} else {
		rec["opponentstats"] = NormalizeJSONish(rec["opponentstats"])
	}
	if rec["teamstats"] == nil {
		rec["teamstats"] = NormalizeJSONish(rec["teamStats"])
	} else {
		rec["teamstats"] = NormalizeJSONish(rec["teamstats"])
	}
	rec["athletes"] = NormalizeJSONish(rec["athletes"])

	for _, k := range []string{"teamId", "idHash", "totalSeconds", "defenseRating", "netRating", "offenseRating", "opponentStats", "teamStats"} {
		delete(rec, k)
	}
}

// aliasAdjustedRating lowercases the rating columns and flattens the nested
// rankings composite
func aliasAdjustedRating(rec domain.Record) {
	fillFrom(rec, "teamid", "teamId")
	fillFrom(rec, "offenserating", "offenseRating")
	fillFrom(rec, "defenserating", "defenseRating")
	fillFrom(rec, "netrating", "netRating")

	if rankings, ok := rec["rankings"].(map[string]any); ok {
		rec["ranking_offense"] = deref(ToInt64(rankings["offense"]))
		rec["ranking_defense"] = deref(ToInt64(rankings["defense"]))
		rec["ranking_net"] = deref(ToInt64(rankings["net"]))
	}

	for _, k := range []string{"rankings", "teamId", "offenseRating", "defenseRating", "netRating"} {
		delete(rec, k)
	}
}

// ExpandLinesRecords widens game-level line records into one row per
// provider quote; records without a usable provider are dropped
func ExpandLinesRecords(records []domain.Record) []domain.Record {
	var expanded []domain.Record
	for _, rec := range records {
		lines, ok := rec["lines"].([]any)
		if !ok || len(lines) == 0 {
			continue
		}
		base := make(domain.Record, len(rec))
		for k, v := range rec {
			if k != "lines" {
				base[k] = v
			}
		}
		for _, item := range lines {
			line, ok := item.(map[string]any)
			if !ok {
				continue
			}
			provider := firstNonNil(line["provider"], line["providerName"], line["source"])
			if provider == nil {
				continue
			}
			row := make(domain.Record, len(base)+len(line))
			for k, v := range base {
				row[k] = v
			}
			for k, v := range line {
				row[k] = v
			}
			row["provider"] = provider
			expanded = append(expanded, row)
		}
	}
	return expanded
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
