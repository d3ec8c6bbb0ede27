package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWireDate_DateOnly(t *testing.T) {
	got, err := ParseWireDate("10/01/2024")

	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 10, got.Day())
}

func TestParseWireDate_WithTime(t *testing.T) {
	got, err := ParseWireDate("31/12/2023 23:59")

	require.NoError(t, err)
	assert.Equal(t, 31, got.Day())
	assert.Equal(t, 23, got.Hour())
}

func TestParseWireDate_Invalid(t *testing.T) {
	for _, s := range []string{"", "2024-01-10", "99/99/2024", "not a date"} {
		_, err := ParseWireDate(s)
		assert.ErrorIs(t, err, ErrUnparseableDate, "input %q", s)
	}
}

func TestParseWireDate_RoundTrip(t *testing.T) {
	got, err := ParseWireDate("05/03/2024")
	require.NoError(t, err)
	assert.Equal(t, "05/03/2024", FormatWireDate(got))
}

func TestDayDiff_IgnoresTimeOfDay(t *testing.T) {
	a, err := ParseWireDate("10/01/2024 23:59")
	require.NoError(t, err)
	b, err := ParseWireDate("12/01/2024")
	require.NoError(t, err)

	assert.Equal(t, 2, DayDiff(a, b))
	assert.Equal(t, 2, DayDiff(b, a))
}

func TestMonthEnd(t *testing.T) {
	cases := map[string]string{
		"05/02/2024": "29/02/2024",
		"01/12/2023": "31/12/2023",
		"30/04/2024": "30/04/2024",
	}
	for in, want := range cases {
		d, err := ParseWireDate(in)
		require.NoError(t, err)
		assert.Equal(t, want, FormatWireDate(MonthEnd(d)))
	}
}

func TestFeeTotalsOf(t *testing.T) {
	entries := []ExternalEntry{
		{Kind: KindCharge, Amount: decimal.NewFromFloat(50)},
		{Kind: KindFee, Amount: decimal.NewFromFloat(-1.25)},
		{Kind: KindNetworkCost, Amount: decimal.NewFromFloat(-0.75)},
		{Kind: KindRefund, Amount: decimal.NewFromFloat(-10)},
	}

	got := FeeTotalsOf(entries)

	assert.Equal(t, 2, got.Count)
	assert.True(t, got.Total.Equal(decimal.NewFromFloat(-2)), "total %s", got.Total)
}
