package app

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"whalewatch/clients/kalshiapi"
	"whalewatch/clients/notifier"
	"whalewatch/clients/polymarketapi"
)

// MarketContextSource fetches current pricing for the market of a trade.
type MarketContextSource interface {
	MarketContext(ctx context.Context, ev TradeEvent) (*notifier.MarketContext, error)
}

// OrderBookSource summarizes the resting book behind a trade.
type OrderBookSource interface {
	OrderBook(ctx context.Context, ev TradeEvent) (*notifier.OrderBook, error)
}

// HolderSource lists the largest net holders of a trade's market.
type HolderSource interface {
	TopHolders(ctx context.Context, ev TradeEvent, n int) ([]notifier.Holder, error)
}

var errNoMarket = errors.New("event has no market id")

// SkipReason reports why a market fails the odds and spread filter, or ""
// when the trade should alert. A zero minSpread disables the spread check.
func SkipReason(mc *notifier.MarketContext, maxOdds, minSpread float64) string {
	if mc == nil {
		return ""
	}
	if maxOdds > 0 && (mc.YesPrice > maxOdds || mc.NoPrice > maxOdds) {
		return "odds"
	}
	if minSpread > 0 && mc.Spread < minSpread {
		return "spread"
	}
	return ""
}

// ---- Polymarket ----

const (
	holderPageSize   = 500
	maxHolderPages   = 10
	maxHolderMarkets = 500
	holderDustSize   = 0.01
)

type holdersEntry struct {
	holders   []notifier.Holder
	fetchedAt time.Time
}

// MarketContext reads the gamma market. The first outcome price is yes.
func (s *polymarketSource) MarketContext(ctx context.Context, ev TradeEvent) (*notifier.MarketContext, error) {
	if ev.MarketID == "" {
		return nil, errNoMarket
	}
	m, err := s.api.GetMarketByConditionID(ctx, ev.MarketID)
	if err != nil {
		return nil, err
	}

	mc := &notifier.MarketContext{
		Spread:    m.Spread,
		Volume24h: m.Volume24hr,
		Liquidity: m.LiquidityNum,
	}
	prices := m.GetOutcomePrices()
	if len(prices) > 0 {
		mc.YesPrice = prices[0]
		mc.NoPrice = 1 - prices[0]
	}
	if len(prices) > 1 {
		mc.NoPrice = prices[1]
	}
	if mc.Spread == 0 && m.BestAsk > 0 && m.BestBid > 0 {
		mc.Spread = m.BestAsk - m.BestBid
	}
	return mc, nil
}

// OrderBook summarizes the CLOB book of the traded outcome token.
func (s *polymarketSource) OrderBook(ctx context.Context, ev TradeEvent) (*notifier.OrderBook, error) {
	if ev.TokenID == "" {
		return nil, errNoMarket
	}
	book, err := s.api.GetOrderBook(ctx, ev.TokenID)
	if err != nil {
		return nil, err
	}

	ob := &notifier.OrderBook{}
	for _, l := range book.Bids {
		price, size, ok := parseLevel(l)
		if !ok {
			continue
		}
		ob.BidLevels++
		ob.BidDepth += price * size
		ob.BestBid = math.Max(ob.BestBid, price)
	}
	for _, l := range book.Asks {
		price, size, ok := parseLevel(l)
		if !ok {
			continue
		}
		ob.AskLevels++
		ob.AskDepth += price * size
		if ob.BestAsk == 0 || price < ob.BestAsk {
			ob.BestAsk = price
		}
	}
	return ob, nil
}

func parseLevel(l polymarketapi.BookLevel) (float64, float64, bool) {
	price, err := strconv.ParseFloat(l.Price, 64)
	if err != nil {
		return 0, 0, false
	}
	size, err := strconv.ParseFloat(l.Size, 64)
	if err != nil {
		return 0, 0, false
	}
	return price, size, true
}

// walletPosition tracks a wallet's net position during aggregation.
type walletPosition struct {
	size        float64
	totalBought float64
	buyShares   float64
}

// TopHolders rebuilds net positions from the market's trade history and
// returns the n largest across outcomes. Results are cached per market for
// the holder TTL.
func (s *polymarketSource) TopHolders(ctx context.Context, ev TradeEvent, n int) ([]notifier.Holder, error) {
	if ev.MarketID == "" {
		return nil, errNoMarket
	}
	if n <= 0 {
		return nil, nil
	}

	now := s.clock.Now()
	s.holdersMu.Lock()
	entry, ok := s.holders[ev.MarketID]
	s.holdersMu.Unlock()
	if !ok || now.Sub(entry.fetchedAt) >= s.holderTTL {
		holders, err := s.aggregateHolders(ctx, ev.MarketID)
		if err != nil {
			return nil, err
		}
		entry = holdersEntry{holders: holders, fetchedAt: now}

		s.holdersMu.Lock()
		if len(s.holders) >= maxHolderMarkets {
			s.holders = make(map[string]holdersEntry)
		}
		s.holders[ev.MarketID] = entry
		s.holdersMu.Unlock()
	}

	if len(entry.holders) > n {
		return entry.holders[:n], nil
	}
	return entry.holders, nil
}

func (s *polymarketSource) aggregateHolders(ctx context.Context, conditionID string) ([]notifier.Holder, error) {
	// Map: outcome -> wallet -> position
	outcomePositions := make(map[string]map[string]*walletPosition)
	processed := 0

	for page := 0; page < maxHolderPages; page++ {
		trades, err := s.api.GetMarketTrades(ctx, conditionID, holderPageSize, page*holderPageSize)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			s.logger.Warn("failed to fetch trades page, holders are partial",
				zap.String("conditionId", conditionID),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}

		for _, t := range trades {
			if t.ProxyWallet == "" {
				continue
			}
			processed++
			wallets, ok := outcomePositions[t.Outcome]
			if !ok {
				wallets = make(map[string]*walletPosition)
				outcomePositions[t.Outcome] = wallets
			}
			pos, ok := wallets[t.ProxyWallet]
			if !ok {
				pos = &walletPosition{}
				wallets[t.ProxyWallet] = pos
			}

			if ParseSide(t.Side) == SideBuy {
				pos.size += t.Size
				pos.totalBought += t.Size * t.Price
				pos.buyShares += t.Size
			} else {
				pos.size -= t.Size
			}
		}

		if len(trades) < holderPageSize {
			break
		}
	}

	var holders []notifier.Holder
	for outcome, wallets := range outcomePositions {
		for wallet, pos := range wallets {
			if pos.size <= holderDustSize {
				continue
			}
			avgPrice := float64(0)
			if pos.buyShares > 0 {
				avgPrice = pos.totalBought / pos.buyShares
			}
			holders = append(holders, notifier.Holder{
				Wallet:   wallet,
				Outcome:  outcome,
				Size:     pos.size,
				AvgPrice: avgPrice,
			})
		}
	}

	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Size != holders[j].Size {
			return holders[i].Size > holders[j].Size
		}
		return holders[i].Wallet < holders[j].Wallet
	})

	s.logger.Debug("market holders aggregated",
		zap.String("conditionId", conditionID),
		zap.Int("tradesProcessed", processed),
		zap.Int("holders", len(holders)),
	)
	return holders, nil
}

// ---- Kalshi ----

// MarketContext prices the market from its last trade, falling back to the
// yes bid/ask midpoint. Kalshi quotes in cents.
func (s *kalshiSource) MarketContext(ctx context.Context, ev TradeEvent) (*notifier.MarketContext, error) {
	if ev.MarketID == "" {
		return nil, errNoMarket
	}
	m, err := s.api.GetMarket(ctx, ev.MarketID)
	if err != nil {
		return nil, err
	}

	yes := float64(m.LastPrice)
	if yes == 0 && m.YesBid > 0 && m.YesAsk > 0 {
		yes = float64(m.YesBid+m.YesAsk) / 2
	}
	mc := &notifier.MarketContext{
		YesPrice:  yes / 100,
		NoPrice:   (100 - yes) / 100,
		Volume24h: float64(m.Volume24h),
		Liquidity: float64(m.Liquidity) / 100,
	}
	if m.YesAsk > 0 && m.YesBid > 0 {
		mc.Spread = float64(m.YesAsk-m.YesBid) / 100
	}
	return mc, nil
}

// OrderBook summarizes the yes side of the book. A resting no bid at p is
// a yes offer at 100-p.
func (s *kalshiSource) OrderBook(ctx context.Context, ev TradeEvent) (*notifier.OrderBook, error) {
	if ev.MarketID == "" {
		return nil, errNoMarket
	}
	book, err := s.api.GetOrderBook(ctx, ev.MarketID)
	if err != nil {
		return nil, err
	}
	return kalshiBookSummary(book), nil
}

func kalshiBookSummary(book *kalshiapi.OrderBook) *notifier.OrderBook {
	ob := &notifier.OrderBook{}
	for _, l := range book.Yes {
		price, qty := float64(l[0])/100, float64(l[1])
		ob.BidLevels++
		ob.BidDepth += price * qty
		ob.BestBid = math.Max(ob.BestBid, price)
	}
	for _, l := range book.No {
		price, qty := float64(100-l[0])/100, float64(l[1])
		ob.AskLevels++
		ob.AskDepth += price * qty
		if ob.BestAsk == 0 || price < ob.BestAsk {
			ob.BestAsk = price
		}
	}
	return ob
}
