package revenue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestSplitWithMatchingRule(t *testing.T) {
	res, err := Split(d("1000"), d("100"), "Groceries", []Rule{{Category: "Groceries", Rate: d("8"), Active: true}}, false)
	require.NoError(t, err)

	assert.True(t, res.ProductTotal.Equal(d("900")))
	assert.True(t, res.PlatformFee.Equal(d("72")))
	assert.True(t, res.VendorAmount.Equal(d("828")))
	assert.True(t, res.RateApplied.Equal(d("8")))
}

func TestSplitCategoryMatchIgnoresCase(t *testing.T) {
	res, err := Split(d("50"), d("0"), "  groceries ", []Rule{{Category: "GROCERIES", Rate: d("4"), Active: true}}, false)
	require.NoError(t, err)
	assert.True(t, res.RateApplied.Equal(d("4")))
	assert.True(t, res.PlatformFee.Equal(d("2")))
}

func TestSplitFallsBackToDefault(t *testing.T) {
	rules := []Rule{
		{Category: "Electronics", Rate: d("15"), Active: true},
		{Category: "Groceries", Rate: d("8"), Active: false},
	}
	res, err := Split(d("110"), d("10"), "Groceries", rules, false)
	require.NoError(t, err)
	assert.True(t, res.RateApplied.Equal(d("10")), "inactive rule must be ignored")
	assert.True(t, res.PlatformFee.Equal(d("10")))
	assert.True(t, res.VendorAmount.Equal(d("90")))
}

func TestSplitResellerUsesFixedRate(t *testing.T) {
	res, err := Split(d("200"), d("0"), "Groceries", []Rule{{Category: "Groceries", Rate: d("8"), Active: true}}, true)
	require.NoError(t, err)
	assert.True(t, res.RateApplied.Equal(d("5")))
	assert.True(t, res.PlatformFee.Equal(d("10")))
	assert.True(t, res.VendorAmount.Equal(d("190")))
}

func TestSplitRoundsHalfUp(t *testing.T) {
	// 10.05 * 10% = 1.005 -> 1.01, vendor 9.04; parts sum to 10.05
	res, err := Split(d("10.05"), d("0"), "", nil, false)
	require.NoError(t, err)
	assert.True(t, res.PlatformFee.Equal(d("1.01")), "fee %s", res.PlatformFee)
	assert.True(t, res.VendorAmount.Equal(d("9.04")), "vendor %s", res.VendorAmount)

	// 0.15 * 5% = 0.0075 -> 0.01
	res, err = Split(d("0.15"), d("0"), "", nil, true)
	require.NoError(t, err)
	assert.True(t, res.PlatformFee.Equal(d("0.01")))
	assert.True(t, res.VendorAmount.Equal(d("0.14")))
}

func TestSplitToleranceIsOneCent(t *testing.T) {
	for _, total := range []string{"0.01", "0.99", "13.37", "99.99", "1234.56"} {
		res, err := Split(d(total), d("0"), "", nil, false)
		require.NoError(t, err)
		diff := res.ProductTotal.Sub(res.PlatformFee.Add(res.VendorAmount)).Abs()
		assert.True(t, diff.LessThanOrEqual(d("0.01")), "total %s off by %s", total, diff)
	}
}

func TestSplitRejectsFeeAboveTotal(t *testing.T) {
	_, err := Split(d("5"), d("6"), "", nil, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Split(d("-1"), d("0"), "", nil, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCalculatorCustomRates(t *testing.T) {
	calc := NewCalculator(d("12.5"), decimal.Zero)
	res, err := calc.Split(d("100"), d("0"), "unknown", nil, false)
	require.NoError(t, err)
	assert.True(t, res.PlatformFee.Equal(d("12.5")))

	res, err = calc.Split(d("100"), d("0"), "unknown", nil, true)
	require.NoError(t, err)
	assert.True(t, res.RateApplied.Equal(ResellerRate), "zero reseller rate falls back to default")
}
