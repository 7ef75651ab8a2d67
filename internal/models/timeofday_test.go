package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	parsed, err := ParseTimeOfDay("08:30")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay(510), parsed)

	parsed, err = ParseTimeOfDay("14:00:00")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay(840), parsed)

	_, err = ParseTimeOfDay("25:00")
	require.Error(t, err)

	_, err = ParseTimeOfDay("bogus")
	require.Error(t, err)
}

func TestTimeOfDayJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(TimeOfDay(9*60 + 15))
	require.NoError(t, err)
	require.Equal(t, `"09:15"`, string(raw))

	var decoded TimeOfDay
	require.NoError(t, json.Unmarshal([]byte(`"16:45"`), &decoded))
	require.Equal(t, TimeOfDay(16*60+45), decoded)
}

func TestOverlaps(t *testing.T) {
	eight := TimeOfDay(8 * 60)
	nine := TimeOfDay(9 * 60)
	ten := TimeOfDay(10 * 60)
	eleven := TimeOfDay(11 * 60)

	require.True(t, Overlaps(eight, ten, nine, eleven))
	require.True(t, Overlaps(nine, eleven, eight, ten))
	require.True(t, Overlaps(eight, ten, eight, ten))
	require.True(t, Overlaps(eight, eleven, nine, ten))

	// Half-open windows: meeting at the boundary is not a collision.
	require.False(t, Overlaps(eight, ten, ten, eleven))
	require.False(t, Overlaps(ten, eleven, eight, ten))
	require.False(t, Overlaps(eight, nine, ten, eleven))
}

func TestDayOfWeek(t *testing.T) {
	require.True(t, DayMonday.Valid())
	require.True(t, DaySaturday.Valid())
	require.False(t, DayOfWeek(-1).Valid())
	require.False(t, DayOfWeek(6).Valid())
	require.Equal(t, "Wednesday", DayWednesday.String())
}
