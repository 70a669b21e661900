package analysis

import (
	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
)

// PriceLevel is one bin of the volume profile.
type PriceLevel struct {
	// Price is the bin's center price.
	Price decimal.Decimal `json:"price"`
	// Volume is the total volume attributed to the bin.
	Volume decimal.Decimal `json:"volume"`
	// VolumePct is the bin's share of total volume, in percent.
	VolumePct decimal.Decimal `json:"volume_pct"`
}

// VolumeProfile aggregates traded volume by price level.
type VolumeProfile struct {
	PriceLevels   []PriceLevel    `json:"price_levels"`
	POC           decimal.Decimal `json:"poc"`
	POCIndex      int             `json:"poc_index"`
	ValueAreaHigh decimal.Decimal `json:"value_area_high"`
	ValueAreaLow  decimal.Decimal `json:"value_area_low"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	PriceLow      decimal.Decimal `json:"price_low"`
	PriceHigh     decimal.Decimal `json:"price_high"`
	Period        int             `json:"period"`
}

// VolumeProfileCalculator bins candles into price levels.
type VolumeProfileCalculator struct {
	numLevels      int
	valueAreaRatio decimal.Decimal
}

// NewVolumeProfileCalculator builds a calculator with numLevels bins,
// clamped to [5, 100]. The value area targets 70% of volume.
func NewVolumeProfileCalculator(numLevels int) *VolumeProfileCalculator {
	return &VolumeProfileCalculator{
		numLevels:      min(100, max(5, numLevels)),
		valueAreaRatio: decimal.NewFromFloat(0.70),
	}
}

// WithValueAreaRatio overrides the value-area target, clamped to
// [0.5, 0.9].
func (c *VolumeProfileCalculator) WithValueAreaRatio(ratio decimal.Decimal) *VolumeProfileCalculator {
	c.valueAreaRatio = decimal.Max(decimal.NewFromFloat(0.5),
		decimal.Min(ratio, decimal.NewFromFloat(0.9)))
	return c
}

// Calculate bins the candles. A candle's volume is distributed
// uniformly across every level its high-low range crosses. Returns nil
// when fewer than two candles or no volume is available.
func (c *VolumeProfileCalculator) Calculate(klines []domain.Kline) *VolumeProfile {
	if len(klines) < 2 {
		return nil
	}

	priceLow := klines[0].Low
	priceHigh := klines[0].High
	for _, k := range klines[1:] {
		priceLow = decimal.Min(priceLow, k.Low)
		priceHigh = decimal.Max(priceHigh, k.High)
	}
	if priceHigh.LessThanOrEqual(priceLow) {
		return nil
	}

	levelSize := priceHigh.Sub(priceLow).Div(decimal.NewFromInt(int64(c.numLevels)))
	levels := make([]decimal.Decimal, c.numLevels)
	totalVolume := decimal.Zero

	for _, k := range klines {
		if k.High.LessThanOrEqual(k.Low) || k.Volume.Sign() <= 0 {
			continue
		}
		start := levelIndex(k.Low, priceLow, levelSize, c.numLevels)
		end := levelIndex(k.High, priceLow, levelSize, c.numLevels)
		covered := end - start + 1
		perLevel := k.Volume.Div(decimal.NewFromInt(int64(covered)))
		for i := start; i <= end; i++ {
			levels[i] = levels[i].Add(perLevel)
		}
		totalVolume = totalVolume.Add(k.Volume)
	}
	if totalVolume.Sign() <= 0 {
		return nil
	}

	two := decimal.NewFromInt(2)
	priceLevels := make([]PriceLevel, c.numLevels)
	pocIndex := 0
	for i, vol := range levels {
		center := priceLow.Add(levelSize.Mul(decimal.NewFromInt(int64(i)))).Add(levelSize.Div(two))
		priceLevels[i] = PriceLevel{
			Price:     center,
			Volume:    vol,
			VolumePct: vol.Div(totalVolume).Mul(decimal.NewFromInt(100)).RoundBank(2),
		}
		if vol.GreaterThan(levels[pocIndex]) {
			pocIndex = i
		}
	}

	vaLow, vaHigh := c.valueArea(priceLevels, pocIndex, totalVolume)

	return &VolumeProfile{
		PriceLevels:   priceLevels,
		POC:           priceLevels[pocIndex].Price,
		POCIndex:      pocIndex,
		ValueAreaHigh: vaHigh,
		ValueAreaLow:  vaLow,
		TotalVolume:   totalVolume,
		PriceLow:      priceLow,
		PriceHigh:     priceHigh,
		Period:        len(klines),
	}
}

// valueArea expands greedily from the POC, always taking the richer
// neighbouring level, until it holds the target volume share.
func (c *VolumeProfileCalculator) valueArea(levels []PriceLevel, pocIndex int, totalVolume decimal.Decimal) (low, high decimal.Decimal) {
	target := totalVolume.Mul(c.valueAreaRatio)
	included := levels[pocIndex].Volume
	lowIdx, highIdx := pocIndex, pocIndex

	for included.LessThan(target) && (lowIdx > 0 || highIdx < len(levels)-1) {
		nextLow := decimal.Zero
		if lowIdx > 0 {
			nextLow = levels[lowIdx-1].Volume
		}
		nextHigh := decimal.Zero
		if highIdx < len(levels)-1 {
			nextHigh = levels[highIdx+1].Volume
		}

		switch {
		case nextLow.GreaterThanOrEqual(nextHigh) && lowIdx > 0:
			lowIdx--
			included = included.Add(levels[lowIdx].Volume)
		case highIdx < len(levels)-1:
			highIdx++
			included = included.Add(levels[highIdx].Volume)
		case lowIdx > 0:
			lowIdx--
			included = included.Add(levels[lowIdx].Volume)
		default:
			return levels[lowIdx].Price, levels[highIdx].Price
		}
	}
	return levels[lowIdx].Price, levels[highIdx].Price
}

// levelIndex maps a price onto its bin, clamped into range.
func levelIndex(price, priceLow, levelSize decimal.Decimal, numLevels int) int {
	idx := int(price.Sub(priceLow).Div(levelSize).IntPart())
	return min(numLevels-1, max(0, idx))
}
