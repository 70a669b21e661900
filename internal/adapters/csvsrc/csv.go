// Package csvsrc ingests the exchange-published CSV listings: KRX code
// and sector files, and the EOD exchange universe.
package csvsrc

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/tyeom/zeroquant/internal/domain"
	"github.com/tyeom/zeroquant/internal/domain/errs"
)

// KRXListing is one row of the KRX code file (종목코드,종목명).
type KRXListing struct {
	Ticker   string
	Name     string
	Exchange string // KOSPI or KOSDAQ, inferred from the code
}

// KRXSector is one row of the KRX sector file (종목코드,업종).
type KRXSector struct {
	Ticker string
	Sector string
}

// EODListing is one row of the EOD exchange universe
// (ticker,name,exchange,yahoo_symbol).
type EODListing struct {
	Ticker      string
	Name        string
	Exchange    string
	YahooSymbol string
	Market      string // country code derived from the exchange
}

// exchangeMarkets maps EOD exchange names onto market codes.
var exchangeMarkets = map[string]string{
	"NYSE":   "US",
	"NASDAQ": "US",
	"AMEX":   "US",
	"BATS":   "US",
	"LSE":    "GB",
	"TSX":    "CA",
	"XETRA":  "DE",
	"EURONEXT": "EU",
	"TSE":    "JP",
	"HKEX":   "HK",
}

// ParseKRXListings reads the KRX code CSV. Quoted fields may embed
// commas; rows with malformed tickers are rejected with a ParseError.
func ParseKRXListings(r io.Reader) ([]KRXListing, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}

	out := make([]KRXListing, 0, len(records))
	for i, rec := range records {
		if i == 0 { // header 종목코드,종목명
			continue
		}
		if len(rec) < 2 {
			return nil, errs.Parse(nil, "krx listing row %d has %d fields", i+1, len(rec))
		}
		ticker := strings.TrimSpace(rec[0])
		if !validKRXTicker(ticker) {
			return nil, errs.Parse(nil, "krx listing row %d: invalid ticker %q", i+1, ticker)
		}
		exchange := "KOSDAQ"
		if ticker[0] == '0' {
			exchange = "KOSPI"
		}
		out = append(out, KRXListing{
			Ticker:   ticker,
			Name:     strings.TrimSpace(rec[1]),
			Exchange: exchange,
		})
	}
	return out, nil
}

// ParseKRXSectors reads the KRX sector CSV.
func ParseKRXSectors(r io.Reader) ([]KRXSector, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}

	out := make([]KRXSector, 0, len(records))
	for i, rec := range records {
		if i == 0 { // header 종목코드,업종
			continue
		}
		if len(rec) < 2 {
			return nil, errs.Parse(nil, "krx sector row %d has %d fields", i+1, len(rec))
		}
		ticker := strings.TrimSpace(rec[0])
		if !validKRXTicker(ticker) {
			return nil, errs.Parse(nil, "krx sector row %d: invalid ticker %q", i+1, ticker)
		}
		out = append(out, KRXSector{Ticker: ticker, Sector: strings.TrimSpace(rec[1])})
	}
	return out, nil
}

// ParseEODListings reads the exchange universe CSV. The market code is
// derived from the exchange column; unknown exchanges are skipped rather
// than failing the whole file.
func ParseEODListings(r io.Reader) ([]EODListing, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}

	out := make([]EODListing, 0, len(records))
	for i, rec := range records {
		if i == 0 { // header ticker,name,exchange,yahoo_symbol
			continue
		}
		if len(rec) < 4 {
			return nil, errs.Parse(nil, "eod row %d has %d fields", i+1, len(rec))
		}
		ticker := strings.TrimSpace(rec[0])
		if ticker == "" {
			return nil, errs.Parse(nil, "eod row %d: empty ticker", i+1)
		}
		exchange := strings.ToUpper(strings.TrimSpace(rec[2]))
		market, ok := exchangeMarkets[exchange]
		if !ok {
			continue
		}
		out = append(out, EODListing{
			Ticker:      ticker,
			Name:        strings.TrimSpace(rec[1]),
			Exchange:    exchange,
			YahooSymbol: strings.TrimSpace(rec[3]),
			Market:      market,
		})
	}
	return out, nil
}

// ToSymbolInfo converts a KRX listing into a universe row.
func (l KRXListing) ToSymbolInfo() domain.SymbolInfo {
	exch := l.Exchange
	yahoo := domain.ToYahooSymbol(l.Ticker)
	return domain.SymbolInfo{
		Ticker:      l.Ticker,
		DisplayName: l.Name,
		Market:      "KR",
		Exchange:    &exch,
		YahooSymbol: &yahoo,
		IsActive:    true,
	}
}

// ToSymbolInfo converts an EOD listing into a universe row.
func (l EODListing) ToSymbolInfo() domain.SymbolInfo {
	exch := l.Exchange
	yahoo := l.YahooSymbol
	if yahoo == "" {
		yahoo = l.Ticker
	}
	return domain.SymbolInfo{
		Ticker:      l.Ticker,
		DisplayName: l.Name,
		Market:      l.Market,
		Exchange:    &exch,
		YahooSymbol: &yahoo,
		IsActive:    true,
	}
}

func readAll(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errs.Parse(err, "read csv")
	}
	return records, nil
}

func validKRXTicker(ticker string) bool {
	if len(ticker) != 6 {
		return false
	}
	for _, r := range ticker {
		alnum := (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
		if !alnum {
			return false
		}
	}
	return true
}
