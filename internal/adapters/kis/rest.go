package kis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
	"github.com/tyeom/zeroquant/internal/metrics"
)

// Quotation transaction ids. Unlike the order endpoints these are
// shared between the live and paper products; the base URL selects the
// product.
const (
	trDomesticDaily  = "FHKST03010100"
	trDomesticMinute = "FHKST03010200"
	trForeignDaily   = "HHDFS76240000"
)

// Name implements adapters.KlineSource.
func (c *Client) Name() string { return "kis" }

// FetchKlines implements adapters.KlineSource over the brokerage REST
// endpoints. Domestic symbols (6-digit) support daily and minute bars;
// everything else is served from the foreign daily path.
func (c *Client) FetchKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int, start time.Time) ([]domain.Kline, error) {
	if limit <= 0 {
		return nil, errs.InvalidParameter("limit must be positive, got %d", limit)
	}

	began := time.Now()
	var (
		klines []domain.Kline
		err    error
	)
	switch {
	case domain.IsPureKoreanCode(symbol) && tf.IsIntraday():
		klines, err = c.fetchDomesticMinute(ctx, symbol, tf, limit)
	case domain.IsPureKoreanCode(symbol):
		klines, err = c.fetchDomesticDaily(ctx, symbol, tf, limit, start)
	default:
		klines, err = c.fetchForeignDaily(ctx, symbol, limit, start)
	}
	metrics.FetchLatency.WithLabelValues(c.Name()).Observe(time.Since(began).Seconds())
	if err != nil {
		metrics.AdapterErrors.WithLabelValues(c.Name()).Inc()
	}
	return klines, err
}

type domesticDailyResponse struct {
	Output []struct {
		Date   string `json:"stck_bsop_date"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_clpr"`
		Volume string `json:"acml_vol"`
	} `json:"output2"`
	ReturnCode string `json:"rt_cd"`
	Message    string `json:"msg1"`
}

func (c *Client) fetchDomesticDaily(ctx context.Context, symbol string, tf domain.Timeframe, limit int, start time.Time) ([]domain.Kline, error) {
	end := time.Now().UTC()
	if start.IsZero() {
		start = end.AddDate(0, 0, -(limit + 30))
	}
	periodCode := "D"
	switch tf {
	case domain.W1:
		periodCode = "W"
	case domain.MN1:
		periodCode = "M"
	}

	raw, err := c.authedGet(ctx,
		"/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
		trDomesticDaily,
		map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         symbol,
			"FID_INPUT_DATE_1":       start.Format("20060102"),
			"FID_INPUT_DATE_2":       end.Format("20060102"),
			"FID_PERIOD_DIV_CODE":    periodCode,
			"FID_ORG_ADJ_PRC":        "0",
		})
	if err != nil {
		return nil, err
	}

	var parsed domesticDailyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.Parse(err, "kis domestic daily body for %s", symbol)
	}
	if parsed.ReturnCode != "0" {
		return nil, errs.Network(nil, "kis domestic daily for %s: %s", symbol, parsed.Message)
	}

	klines := make([]domain.Kline, 0, len(parsed.Output))
	for i := len(parsed.Output) - 1; i >= 0; i-- { // newest first upstream
		row := parsed.Output[i]
		if row.Date == "" {
			continue
		}
		openTime, err := time.ParseInLocation("20060102", row.Date, time.UTC)
		if err != nil {
			return nil, errs.Parse(err, "kis trade date %q", row.Date)
		}
		openTime = domain.AlignToTimeframe(openTime, tf)
		klines = append(klines, domain.Kline{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  openTime,
			CloseTime: openTime.Add(tf.Duration()),
			Open:      mustDec(row.Open),
			High:      mustDec(row.High),
			Low:       mustDec(row.Low),
			Close:     mustDec(row.Close),
			Volume:    mustDec(row.Volume),
		})
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

type domesticMinuteResponse struct {
	Output []struct {
		Date   string `json:"stck_bsop_date"`
		Time   string `json:"stck_cntg_hour"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_prpr"`
		Volume string `json:"cntg_vol"`
	} `json:"output2"`
	ReturnCode string `json:"rt_cd"`
	Message    string `json:"msg1"`
}

func (c *Client) fetchDomesticMinute(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error) {
	raw, err := c.authedGet(ctx,
		"/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice",
		trDomesticMinute,
		map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         symbol,
			"FID_INPUT_HOUR_1":       time.Now().In(seoulLocation()).Format("150405"),
			"FID_PW_DATA_INCU_YN":    "Y",
			"FID_ETC_CLS_CODE":       "",
		})
	if err != nil {
		return nil, err
	}

	var parsed domesticMinuteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.Parse(err, "kis domestic minute body for %s", symbol)
	}
	if parsed.ReturnCode != "0" {
		return nil, errs.Network(nil, "kis domestic minute for %s: %s", symbol, parsed.Message)
	}

	loc := seoulLocation()
	klines := make([]domain.Kline, 0, len(parsed.Output))
	for i := len(parsed.Output) - 1; i >= 0; i-- {
		row := parsed.Output[i]
		if row.Date == "" || row.Time == "" {
			continue
		}
		at, err := time.ParseInLocation("20060102150405", row.Date+row.Time, loc)
		if err != nil {
			return nil, errs.Parse(err, "kis minute stamp %q %q", row.Date, row.Time)
		}
		openTime := domain.AlignToTimeframe(at.UTC(), tf)
		klines = append(klines, domain.Kline{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  openTime,
			CloseTime: openTime.Add(tf.Duration()),
			Open:      mustDec(row.Open),
			High:      mustDec(row.High),
			Low:       mustDec(row.Low),
			Close:     mustDec(row.Close),
			Volume:    mustDec(row.Volume),
		})
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

type foreignDailyResponse struct {
	Output []struct {
		Date   string `json:"xymd"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"clos"`
		Volume string `json:"tvol"`
	} `json:"output2"`
	ReturnCode string `json:"rt_cd"`
	Message    string `json:"msg1"`
}

func (c *Client) fetchForeignDaily(ctx context.Context, symbol string, limit int, start time.Time) ([]domain.Kline, error) {
	raw, err := c.authedGet(ctx,
		"/uapi/overseas-price/v1/quotations/dailyprice",
		trForeignDaily,
		map[string]string{
			"AUTH": "",
			"EXCD": "NAS",
			"SYMB": symbol,
			"GUBN": "0",
			"BYMD": "",
			"MODP": "1",
		})
	if err != nil {
		return nil, err
	}

	var parsed foreignDailyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.Parse(err, "kis foreign daily body for %s", symbol)
	}
	if parsed.ReturnCode != "0" {
		return nil, errs.Network(nil, "kis foreign daily for %s: %s", symbol, parsed.Message)
	}

	klines := make([]domain.Kline, 0, len(parsed.Output))
	for i := len(parsed.Output) - 1; i >= 0; i-- {
		row := parsed.Output[i]
		if row.Date == "" {
			continue
		}
		openTime, err := time.ParseInLocation("20060102", row.Date, time.UTC)
		if err != nil {
			return nil, errs.Parse(err, "kis foreign date %q", row.Date)
		}
		klines = append(klines, domain.Kline{
			Symbol:    symbol,
			Timeframe: domain.D1,
			OpenTime:  openTime,
			CloseTime: openTime.Add(24 * time.Hour),
			Open:      mustDec(row.Open),
			High:      mustDec(row.High),
			Low:       mustDec(row.Low),
			Close:     mustDec(row.Close),
			Volume:    mustDec(row.Volume),
		})
	}
	if !start.IsZero() {
		filtered := klines[:0]
		for _, k := range klines {
			if !k.OpenTime.Before(start) {
				filtered = append(filtered, k)
			}
		}
		klines = filtered
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func seoulLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*3600)
	}
	return loc
}
