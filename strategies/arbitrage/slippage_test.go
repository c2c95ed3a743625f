package arbitrage_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

func TestValidateTolerance(t *testing.T) {
	tests := []struct {
		name      string
		tolerance *big.Int
		wantErr   bool
	}{
		{name: "Zero", tolerance: big.NewInt(0)},
		{name: "OnePercent", tolerance: types.Percent(1)},
		{name: "JustBelowHundred", tolerance: new(big.Int).Sub(types.HundredPercent, big.NewInt(1))},
		{name: "Hundred", tolerance: types.Percent(100), wantErr: true},
		{name: "AboveHundred", tolerance: types.Percent(150), wantErr: true},
		{name: "Negative", tolerance: big.NewInt(-1), wantErr: true},
		{name: "Nil", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := arbitrage.ValidateTolerance(tt.tolerance)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidSlippage)
				assert.ErrorIs(t, err, types.ErrSlippage)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyTolerance(t *testing.T) {
	amount := testutils.ToUnits(t, "1000", 6)

	t.Run("ZeroKeepsAmount", func(t *testing.T) {
		out, err := arbitrage.ApplyTolerance(amount, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, amount.String(), out.String())
	})

	t.Run("ScalesLinearly", func(t *testing.T) {
		one, err := arbitrage.ApplyTolerance(amount, types.Percent(1))
		require.NoError(t, err)
		two, err := arbitrage.ApplyTolerance(amount, types.Percent(2))
		require.NoError(t, err)

		assert.Equal(t, testutils.ToUnits(t, "990", 6).String(), one.String())
		assert.Equal(t, testutils.ToUnits(t, "980", 6).String(), two.String())
		firstStep := new(big.Int).Sub(amount, one)
		secondStep := new(big.Int).Sub(one, two)
		assert.Equal(t, firstStep.String(), secondStep.String())
	})

	t.Run("RoundsDown", func(t *testing.T) {
		out, err := arbitrage.ApplyTolerance(big.NewInt(999), types.Percent(0.5))
		require.NoError(t, err)
		assert.Equal(t, "994", out.String())
	})

	t.Run("RejectsHundredPercent", func(t *testing.T) {
		_, err := arbitrage.ApplyTolerance(amount, types.HundredPercent)
		assert.ErrorIs(t, err, types.ErrInvalidSlippage)
	})

	t.Run("RejectsNegativeAmount", func(t *testing.T) {
		_, err := arbitrage.ApplyTolerance(big.NewInt(-1), big.NewInt(0))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestEstimateSlippage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "500")
	s := h.scenario
	amount := testutils.ToUnits(t, "100000", 6)

	exact, err := h.executor.EstimateSlippage(ctx, amount, big.NewInt(0))
	require.NoError(t, err)

	t.Run("MatchesVenueQuotes", func(t *testing.T) {
		first, err := s.Uniswap.GetAmountsOut(ctx, amount, []common.Address{simulator.USDT, simulator.WETH})
		require.NoError(t, err)
		second, err := s.Sushiswap.GetAmountsOut(ctx, first[1], []common.Address{simulator.WETH, simulator.USDT})
		require.NoError(t, err)
		assert.Equal(t, first[1].String(), exact.MinimumFirstSwap.String())
		assert.Equal(t, second[1].String(), exact.MinimumSecondSwap.String())
	})

	t.Run("SecondLegPricedOnUnconstrainedFirst", func(t *testing.T) {
		bounds, err := h.executor.EstimateSlippage(ctx, amount, types.Percent(5))
		require.NoError(t, err)
		wantFirst, err := arbitrage.ApplyTolerance(exact.MinimumFirstSwap, types.Percent(5))
		require.NoError(t, err)
		wantSecond, err := arbitrage.ApplyTolerance(exact.MinimumSecondSwap, types.Percent(5))
		require.NoError(t, err)
		assert.Equal(t, wantFirst.String(), bounds.MinimumFirstSwap.String())
		assert.Equal(t, wantSecond.String(), bounds.MinimumSecondSwap.String())
	})

	t.Run("LargerToleranceLowerBounds", func(t *testing.T) {
		loose, err := h.executor.EstimateSlippage(ctx, amount, types.Percent(10))
		require.NoError(t, err)
		assert.Equal(t, -1, loose.MinimumFirstSwap.Cmp(exact.MinimumFirstSwap))
		assert.Equal(t, -1, loose.MinimumSecondSwap.Cmp(exact.MinimumSecondSwap))
	})

	t.Run("ReadOnly", func(t *testing.T) {
		before := h.snapshot(t)
		_, err := h.executor.EstimateSlippage(ctx, amount, types.Percent(1))
		require.NoError(t, err)
		assertSameState(t, before, h.snapshot(t))
	})

	t.Run("InvalidTolerance", func(t *testing.T) {
		_, err := h.executor.EstimateSlippage(ctx, amount, types.Percent(100))
		assert.ErrorIs(t, err, types.ErrInvalidSlippage)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		_, err := h.executor.EstimateSlippage(ctx, big.NewInt(0), types.Percent(1))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})

	t.Run("BoundsExecute", func(t *testing.T) {
		bounds, err := h.executor.EstimateSlippage(ctx, amount, types.Percent(1))
		require.NoError(t, err)
		report, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, amount,
			bounds.MinimumFirstSwap, bounds.MinimumSecondSwap)
		require.NoError(t, err)
		assert.True(t, report.Profit.Sign() >= 0)
	})
}
