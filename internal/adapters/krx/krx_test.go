package krx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyeom/zeroquant/internal/domain"
)

func TestFetchKlinesParsesDailyBars(t *testing.T) {
	var sawOTP bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/otp":
			sawOTP = true
			require.NoError(t, r.ParseForm())
			assert.Contains(t, r.PostForm.Get("isuCd"), "005930")
			fmt.Fprint(w, "generated-otp-token")
		case "/data":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "generated-otp-token", r.PostForm.Get("code"))
			// Newest first, as the exchange returns them.
			fmt.Fprint(w, `{"output":[
				{"TRD_DD":"2024/01/03","TDD_OPNPRC":"71,500","TDD_HGPRC":"72,000","TDD_LWPRC":"71,000","TDD_CLSPRC":"71,700","ACC_TRDVOL":"12,345,678"},
				{"TRD_DD":"2024/01/02","TDD_OPNPRC":"70,000","TDD_HGPRC":"71,800","TDD_LWPRC":"69,900","TDD_CLSPRC":"71,600","ACC_TRDVOL":"10,000,000"}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := New(srv.Client(), nil).WithURLs(srv.URL+"/otp", srv.URL+"/data")
	klines, err := a.FetchKlines(context.Background(), "005930", domain.D1, 10, time.Time{})
	require.NoError(t, err)
	require.True(t, sawOTP)
	require.Len(t, klines, 2)

	// Ascending after the reversal.
	assert.True(t, klines[0].OpenTime.Before(klines[1].OpenTime))
	assert.Equal(t, "70000", klines[0].Open.String())
	assert.Equal(t, "12345678", klines[1].Volume.String())
	for _, k := range klines {
		assert.NoError(t, k.Validate())
	}
}

func TestFetchKlinesRejectsNonKoreanTicker(t *testing.T) {
	a := New(nil, nil)
	_, err := a.FetchKlines(context.Background(), "AAPL", domain.D1, 10, time.Time{})
	assert.Error(t, err)
}

func TestParseKRXNumber(t *testing.T) {
	assert.Equal(t, "71500", parseKRXNumber("71,500").String())
	assert.Equal(t, "0", parseKRXNumber("-").String())
	assert.Equal(t, "0", parseKRXNumber("").String())
}
