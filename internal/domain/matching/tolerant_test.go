package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

func tolerantPolicy() Policy {
	return Policy{
		Tolerant:       true,
		TolerantWindow: DefaultTolerantWindow,
		StrictCurrency: "AED",
		BillingEntity:  "Acme Ltd",
	}
}

func TestMatchTolerant_PassB_ClientAmountWithinWindow(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "123", "10/01/2024", 50.00, "USD", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "12/01/2024", 50.00, "USD", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "client_amount_±2d", res.Pairs[0].Method)
	assert.Equal(t, 2, res.Pairs[0].Stage)
	assert.Empty(t, res.UnmatchedExternal)
	assert.Empty(t, res.UnmatchedInternal)
}

func TestMatchTolerant_PassA_BeatsPassB(t *testing.T) {
	// The description-derived client points at a different bank client
	// than the primary id; pass A must claim the row first.
	ext := makeExternal(1, "999", "10/01/2024", 50, "USD", ledger.KindCharge)
	ext.DescClientID = "123"
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "11/01/2024", 50, "USD", "Acme Ltd"),
		makeInternal(101, 999, "11/01/2024", 50, "USD", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, []ledger.ExternalEntry{ext}, internals, NewConsumed(), tolerantPolicy())

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "desc_client_amount_±1d", res.Pairs[0].Method)
	assert.Equal(t, int64(100), res.Pairs[0].Internal.ID)
}

func TestMatchTolerant_WindowBoundary(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "123", "10/01/2024", 50, "USD", ledger.KindCharge),
		makeExternal(2, "124", "10/01/2024", 60, "USD", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "15/01/2024", 50, "USD", "Acme Ltd"), // 5 days: in
		makeInternal(101, 124, "16/01/2024", 60, "USD", "Acme Ltd"), // 6 days: out
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "client_amount_±5d", res.Pairs[0].Method)
	assert.Len(t, res.UnmatchedExternal, 1)
	assert.Len(t, res.UnmatchedInternal, 1)
}

func TestMatchTolerant_PassC_SmallestOffsetWins(t *testing.T) {
	// No client id agreement anywhere, so only pass C can fire.
	externals := []ledger.ExternalEntry{
		makeExternal(1, "555", "10/01/2024", 80, "USD", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 700, "13/01/2024", 80, "USD", "Acme Ltd"),
		makeInternal(101, 701, "11/01/2024", 80, "USD", "Acme Ltd"),
		makeInternal(102, 702, "09/01/2024", 80, "USD", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	require.Len(t, res.Pairs, 1)
	// +1 probes before -1, so the 11/01 row wins over 09/01.
	assert.Equal(t, "date_amount_only_±1d", res.Pairs[0].Method)
	assert.Equal(t, int64(101), res.Pairs[0].Internal.ID)
}

func TestMatchTolerant_PassC_FirstInInputOrderOnTie(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "555", "10/01/2024", 80, "USD", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 700, "10/01/2024", 80, "USD", "Acme Ltd"),
		makeInternal(101, 701, "10/01/2024", 80, "USD", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, int64(100), res.Pairs[0].Internal.ID)
}

func TestMatchTolerant_StrictCurrencyGuard(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "123", "10/01/2024", 50, "AED", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "11/01/2024", 50, "USD", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	assert.Empty(t, res.Pairs)
	assert.Len(t, res.UnmatchedExternal, 1)
}

func TestMatchTolerant_StrictCurrencyBothSides(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "123", "10/01/2024", 50, "AED", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "11/01/2024", 50, "AED", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "client_amount_±1d", res.Pairs[0].Method)
}

func TestMatchTolerant_UnparseableDateRowStillReported(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "123", "10/01/2024", 50, "USD", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "not-a-date", 50, "USD", "Acme Ltd"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	// The row cannot enter any pass, but it is still this entity's
	// unmatched leftover.
	assert.Empty(t, res.Pairs)
	require.Len(t, res.UnmatchedInternal, 1)
	assert.Equal(t, int64(100), res.UnmatchedInternal[0].ID)
}

func TestMatchTolerant_SiblingBooksExcluded(t *testing.T) {
	externals := []ledger.ExternalEntry{
		makeExternal(1, "123", "10/01/2024", 50, "USD", ledger.KindCharge),
	}
	internals := []ledger.InternalEntry{
		makeInternal(100, 123, "10/01/2024", 50, "USD", "Other GmbH"),
	}

	res := MatchTolerant(testScope, externals, internals, NewConsumed(), tolerantPolicy())

	assert.Empty(t, res.Pairs)
	assert.Len(t, res.UnmatchedExternal, 1)
	// The sibling row is not this entity's problem to report.
	assert.Empty(t, res.UnmatchedInternal)
}
