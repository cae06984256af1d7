package canonical

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossKeyOrder(t *testing.T) {
	a := Map{"a": 1, "b": "ok"}
	b := Map{"b": "ok", "a": 1}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
	require.Len(t, ha, 64)
}

func TestHashChangesWithValue(t *testing.T) {
	h1 := MustHash(Map{"a": 1, "b": "ok"})
	h2 := MustHash(Map{"a": 2, "b": "ok"})
	require.NotEqual(t, h1, h2)
}

func TestFloatRejected(t *testing.T) {
	_, err := Hash(Map{"x": 1.5})
	require.Error(t, err)
	var ce *Err
	require.ErrorAs(t, err, &ce)
}

func TestInstantMicrosecondUTC(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)
	b, err := ToBytes(ts)
	require.NoError(t, err)
	require.Equal(t, `"2026-01-02T03:04:05.123456Z"`, string(b))
}

func TestDateISO(t *testing.T) {
	d := Date{Year: 2026, Month: 7, Day: 31}
	require.Equal(t, "2026-07-31", d.String())
}

func TestUUIDDashedLowercase(t *testing.T) {
	id := uuid.MustParse("123E4567-E89B-12D3-A456-426614174000")
	b, err := ToBytes(id)
	require.NoError(t, err)
	require.Equal(t, `"123e4567-e89b-12d3-a456-426614174000"`, string(b))
}

func TestFromBytesRoundTrip(t *testing.T) {
	v := Map{"a": 1, "b": List{1, 2, 3}, "c": Map{"d": "ok"}, "e": nil}
	b, err := ToBytes(v)
	require.NoError(t, err)

	decoded, err := FromBytes(b)
	require.NoError(t, err)

	b2, err := ToBytes(decoded)
	require.NoError(t, err)
	require.Equal(t, b, b2)
}

func TestFromBytesRejectsFraction(t *testing.T) {
	_, err := FromBytes([]byte(`{"x":1.5}`))
	require.Error(t, err)
}

func TestRoundTripSameBytesTwice(t *testing.T) {
	v := Map{"list": List{1, "two", Map{"three": 3}}}
	b1, err := ToBytes(v)
	require.NoError(t, err)
	b2, err := ToBytes(v)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}
