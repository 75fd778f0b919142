package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

func TestCoerceValueCastsScalars(t *testing.T) {
	assert.Equal(t, int64(123), CoerceValue("123", TypeBigint))
	assert.Equal(t, int32(2024), CoerceValue("2024", TypeInt))
	assert.Equal(t, 1.5, CoerceValue("1.5", TypeDouble))
	assert.Equal(t, true, CoerceValue("true", TypeBoolean))
	assert.Equal(t, "401", CoerceValue(float64(401), TypeString))
	assert.Nil(t, CoerceValue("not a number", TypeBigint))
	assert.Nil(t, CoerceValue(nil, TypeDouble))
}

func TestCoerceValueParsesTimestamps(t *testing.T) {
	ms := CoerceValue("2024-11-01T12:00:00Z", TypeTimestamp)
	require.IsType(t, int64(0), ms)
	assert.Equal(t, int64(1730462400000), ms)

	day := CoerceValue("2024-11-01", TypeTimestamp)
	assert.Equal(t, int64(1730419200000), day)
}

func TestBuildColumnsUsesHintsThenInference(t *testing.T) {
	spec := TableSpecs["fct_games"]
	records := []domain.Record{
		{"gameId": "123", "season": "2024", "startTime": "2024-11-01T12:00:00Z", "attendance": float64(15000), "venue": "Allen Fieldhouse"},
	}

	columns := BuildColumns(&spec, records)
	byName := map[string]LogicalType{}
	for _, c := range columns {
		byName[c.Name] = c.Type
	}
	assert.Equal(t, TypeBigint, byName["gameId"])
	assert.Equal(t, TypeInt, byName["season"])
	assert.Equal(t, TypeTimestamp, byName["startTime"])
	// no hint: inferred from values
	assert.Equal(t, TypeBigint, byName["attendance"])
	assert.Equal(t, TypeString, byName["venue"])
}

func TestBuildRowsCoercesAndNulls(t *testing.T) {
	spec := TableSpecs["fct_games"]
	records := []domain.Record{
		{"gameId": "123", "season": "2024"},
		{"gameId": float64(456)},
	}

	columns := BuildColumns(&spec, records)
	rows := BuildRows(columns, records)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(123), rows[0]["gameId"])
	assert.Equal(t, int32(2024), rows[0]["season"])
	assert.Equal(t, int64(456), rows[1]["gameId"])
	assert.Nil(t, rows[1]["season"])
}

func TestDedupeRecordsKeepsFirstAndPassesMissingKeys(t *testing.T) {
	records := []domain.Record{
		{"gameId": int64(1), "status": "scheduled"},
		{"gameId": int64(1), "status": "final"},
		{"status": "no key"},
		{"gameId": int64(2)},
	}

	out := DedupeRecords(records, []string{"gameId"})
	require.Len(t, out, 3)
	assert.Equal(t, "scheduled", out[0]["status"])
	assert.Equal(t, "no key", out[1]["status"])
	assert.Equal(t, int64(2), out[2]["gameId"])
}

func TestSeenKeysFiltersAcrossBatchesPerTable(t *testing.T) {
	seen := NewSeenKeys()
	keys := []string{"id"}

	first := seen.Filter("fct_plays", []domain.Record{{"id": int64(1)}, {"id": int64(2)}}, keys)
	assert.Len(t, first, 2)

	second := seen.Filter("fct_plays", []domain.Record{{"id": int64(2)}, {"id": int64(3)}, {"note": "unkeyed"}}, keys)
	require.Len(t, second, 2)
	assert.Equal(t, int64(3), second[0]["id"])
	assert.Equal(t, "unkeyed", second[1]["note"])

	// other tables keep their own key space
	other := seen.Filter("fct_substitutions", []domain.Record{{"id": int64(1)}}, keys)
	assert.Len(t, other, 1)
}

func TestCoerceKeyFieldsAlignsEquivalentSpellings(t *testing.T) {
	spec := TableSpecs["fct_games"]
	records := []domain.Record{
		{"gameId": "401"},
		{"gameId": float64(401)},
	}
	CoerceKeyFields(spec, records)

	out := DedupeRecords(records, spec.PrimaryKeys)
	assert.Len(t, out, 1)
}

func TestApplyKeyAliasesGames(t *testing.T) {
	records := []domain.Record{{"id": float64(401), "season": float64(2024)}}
	out := ApplyKeyAliases("fct_games", records)
	assert.Equal(t, float64(401), out[0]["gameId"])
}

func TestApplyKeyAliasesPlaysFlattensComposites(t *testing.T) {
	records := []domain.Record{{
		"id":     float64(9),
		"gameid": float64(401),
		"onFloor": []any{
			map[string]any{"id": float64(11), "name": "A"},
			map[string]any{"id": float64(12), "name": "B"},
		},
		"participants": []any{map[string]any{"id": float64(11)}},
		"shotInfo": map[string]any{
			"shooter":    map[string]any{"id": float64(11), "name": "A"},
			"made":       true,
			"range":      "three_pointer",
			"assisted":   true,
			"assistedBy": map[string]any{"id": float64(12), "name": "B"},
			"location":   map[string]any{"x": float64(23.5), "y": float64(8.0)},
		},
	}}

	out := ApplyKeyAliases("fct_plays", records)
	rec := out[0]
	assert.Equal(t, float64(401), rec["gameId"])
	assert.Equal(t, int64(11), rec["onfloor_player1"])
	assert.Equal(t, int64(12), rec["onfloor_player2"])
	assert.Nil(t, rec["onfloor_player3"])
	assert.Nil(t, rec["onfloor_player10"])
	assert.Equal(t, int64(11), rec["participant_id"])
	assert.Equal(t, int64(11), rec["shot_shooter_id"])
	assert.Equal(t, "A", rec["shot_shooter_name"])
	assert.Equal(t, true, rec["shot_made"])
	assert.Equal(t, true, rec["shot_assisted"])
	assert.Equal(t, int64(12), rec["shot_assisted_by_id"])
	assert.Equal(t, 23.5, rec["shot_loc_x"])
	// composites survive as JSON text
	assert.IsType(t, "", rec["shotInfo"])
	assert.IsType(t, "", rec["onFloor"])
}

func TestApplyKeyAliasesLineupsDropsCamelCase(t *testing.T) {
	records := []domain.Record{{
		"idHash":        "abc",
		"teamId":        float64(5),
		"totalSeconds":  float64(120),
		"offenseRating": float64(101.2),
		"teamStats":     map[string]any{"points": float64(12)},
		"athletes":      []any{map[string]any{"id": float64(1)}},
	}}

	out := ApplyKeyAliases("fct_lineups", records)
	rec := out[0]
	assert.Equal(t, "abc", rec["idhash"])
	assert.Equal(t, float64(5), rec["teamid"])
	assert.Equal(t, float64(101.2), rec["offenserating"])
	assert.IsType(t, "", rec["teamstats"])
	for _, dropped := range []string{"idHash", "teamId", "totalSeconds", "offenseRating", "teamStats"} {
		_, present := rec[dropped]
		assert.False(t, present, dropped)
	}
}

func TestApplyKeyAliasesAdjustedRatingsFlattensRankings(t *testing.T) {
	records := []domain.Record{{
		"teamId":        float64(5),
		"season":        float64(2024),
		"netRating":     float64(15.1),
		"offenseRating": float64(110.0),
		"defenseRating": float64(94.9),
		"rankings":      map[string]any{"offense": float64(3), "defense": float64(20), "net": float64(7)},
	}}

	out := ApplyKeyAliases("fct_ratings_adjusted", records)
	rec := out[0]
	assert.Equal(t, float64(5), rec["teamid"])
	assert.Equal(t, float64(15.1), rec["netrating"])
	assert.Equal(t, int64(3), rec["ranking_offense"])
	assert.Equal(t, int64(7), rec["ranking_net"])
	_, hasRankings := rec["rankings"]
	assert.False(t, hasRankings)
}

func TestExpandLinesRecords(t *testing.T) {
	records := []domain.Record{
		{
			"gameId": float64(401),
			"season": float64(2024),
			"lines": []any{
				map[string]any{"provider": "Bovada", "spread": float64(-3.5)},
				map[string]any{"providerName": "DraftKings", "spread": float64(-4.0)},
				map[string]any{"spread": float64(-2.0)}, // no provider: dropped
			},
		},
		{"gameId": float64(402)}, // no lines: dropped
	}

	out := ExpandLinesRecords(records)
	require.Len(t, out, 2)
	assert.Equal(t, "Bovada", out[0]["provider"])
	assert.Equal(t, float64(401), out[0]["gameId"])
	assert.Equal(t, "DraftKings", out[1]["provider"])
	for _, rec := range out {
		_, hasNested := rec["lines"]
		assert.False(t, hasNested)
	}
}

func TestTableSpecsContract(t *testing.T) {
	for name, spec := range TableSpecs {
		assert.NotEmpty(t, spec.PrimaryKeys, name)
		assert.Equal(t, name, spec.Name)
		for _, pk := range spec.PrimaryKeys {
			_, ok := spec.HintFor(pk)
			assert.True(t, ok, "%s: primary key %s has no type hint", name, pk)
		}
	}
}
