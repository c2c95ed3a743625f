package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/flashloan"
)

// ErrNoOpportunity is returned by Best when neither direction pays
var ErrNoOpportunity = errors.New("no profitable opportunity")

// Opportunity is a priced round trip of a borrowed asset through two venues
type Opportunity struct {
	FirstVenue   string
	SecondVenue  string
	Asset        common.Address
	Token        common.Address
	Amount       *big.Int
	FirstLegOut  *big.Int
	SecondLegOut *big.Int
	Premium      *big.Int
	Profit       *big.Int
}

// Profitable reports whether the round trip covers the loan and its premium
func (o *Opportunity) Profitable() bool {
	return o.Profit != nil && o.Profit.Sign() > 0
}

// Direction names the venue order
func (o *Opportunity) Direction() string {
	return o.FirstVenue + "->" + o.SecondVenue
}

// Detector prices the round trip in both venue orders
type Detector struct {
	venueA    dex.Quoter
	venueB    dex.Quoter
	minProfit *big.Int
	logger    *zap.Logger
}

// NewDetector creates a detector over two venues. Opportunities below
// minProfit are not reported by Best.
func NewDetector(venueA, venueB dex.Quoter, minProfit *big.Int, logger *zap.Logger) (*Detector, error) {
	if venueA == nil || venueB == nil {
		return nil, fmt.Errorf("two venues are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if minProfit == nil {
		minProfit = new(big.Int)
	}
	return &Detector{
		venueA:    venueA,
		venueB:    venueB,
		minProfit: minProfit,
		logger:    logger,
	}, nil
}

// Evaluate quotes A->B and B->A concurrently. The first element is always the
// A->B direction.
func (d *Detector) Evaluate(ctx context.Context, asset, token common.Address, amount *big.Int, premiumBps uint64) ([]*Opportunity, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount")
	}

	results := make([]*Opportunity, 2)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := d.roundTrip(gctx, d.venueA, d.venueB, asset, token, amount, premiumBps)
		results[0] = o
		return err
	})
	g.Go(func() error {
		o, err := d.roundTrip(gctx, d.venueB, d.venueA, asset, token, amount, premiumBps)
		results[1] = o
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range results {
		d.logger.Debug("Evaluated round trip",
			zap.String("direction", o.Direction()),
			zap.String("amount", o.Amount.String()),
			zap.String("profit", o.Profit.String()))
	}
	return results, nil
}

// Best returns the more profitable direction, or ErrNoOpportunity
func (d *Detector) Best(ctx context.Context, asset, token common.Address, amount *big.Int, premiumBps uint64) (*Opportunity, error) {
	opportunities, err := d.Evaluate(ctx, asset, token, amount, premiumBps)
	if err != nil {
		return nil, err
	}

	var best *Opportunity
	for _, o := range opportunities {
		if !o.Profitable() || o.Profit.Cmp(d.minProfit) < 0 {
			continue
		}
		if best == nil || o.Profit.Cmp(best.Profit) > 0 {
			best = o
		}
	}
	if best == nil {
		return nil, ErrNoOpportunity
	}
	return best, nil
}

func (d *Detector) roundTrip(ctx context.Context, first, second dex.Quoter, asset, token common.Address, amount *big.Int, premiumBps uint64) (*Opportunity, error) {
	out1, err := quoteLeg(ctx, first, amount, asset, token)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", first.Name(), err)
	}
	out2, err := quoteLeg(ctx, second, out1, token, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", second.Name(), err)
	}

	repayment := flashloan.Repayment(amount, premiumBps)
	premium := new(big.Int).Sub(repayment, amount)
	profit := new(big.Int).Sub(out2, repayment)

	return &Opportunity{
		FirstVenue:   first.Name(),
		SecondVenue:  second.Name(),
		Asset:        asset,
		Token:        token,
		Amount:       new(big.Int).Set(amount),
		FirstLegOut:  out1,
		SecondLegOut: out2,
		Premium:      premium,
		Profit:       profit,
	}, nil
}
