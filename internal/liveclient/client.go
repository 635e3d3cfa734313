// Package liveclient implements the paper and real-money ExecutionBackend:
// an HTTP client against the brokerage's REST API, with OAuth token
// persistence/refresh and rate-limit/expiry-aware retries.
package liveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/config"
	"github.com/stockrs-go/tradeengine/internal/execution"
	"github.com/stockrs-go/tradeengine/internal/pkg/circuit"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// rate-limit and token-expiry signatures the brokerage embeds in its JSON
// error envelopes rather than in the HTTP status line.
const (
	rateLimitCode  = "EGW00201"
	tokenExpiredCD = "EGW00123"
	tokenExpiredKO = "기간이 만료된 token"
)

// Client is the execution.Backend for paper and real trading: it drives the
// brokerage's REST API over plain HTTP, refreshing the OAuth token on
// expiry and retrying rate-limited calls with backoff.
type Client struct {
	httpClient *http.Client
	profile    config.APIProfile
	tokenPath  string
	policy     RetryPolicy
	breaker    *circuit.Breaker

	accountNumber string
	branchByOrder map[string]string
}

// New constructs a Client against profile, persisting/loading its token at
// tokenPath and retrying per tm. A per-profile circuit breaker sits above
// the retry policy: RetryPolicy bounds how hard a single call tries, the
// breaker decides whether to let the next call attempt at all once the
// brokerage has been failing consistently.
func New(profile config.APIProfile, tokenPath string, tm config.TokenManagementConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(tm.PerCallTimeoutSecs) * time.Second},
		profile:    profile,
		tokenPath:  tokenPath,
		policy: RetryPolicy{
			MaxRetries:     tm.MaxRetries,
			BaseDelay:      time.Duration(tm.BaseDelayMillis) * time.Millisecond,
			MaxDelay:       time.Duration(tm.MaxDelayMillis) * time.Millisecond,
			JitterFraction: tm.JitterFraction,
		},
		breaker:       circuit.New(profile.BaseURL, tm.BreakerFailureThreshold, time.Duration(tm.BreakerCooldownSeconds)*time.Second),
		accountNumber: profile.AccountNumber,
		branchByOrder: make(map[string]string),
	}
}

var _ execution.Backend = (*Client)(nil)

// ensureToken loads a cached token or requests a fresh one if missing or
// close to expiring.
func (c *Client) ensureToken(ctx context.Context) (Token, error) {
	tok, err := LoadToken(c.tokenPath)
	if err != nil {
		return Token{}, err
	}
	if tok != nil && !tok.IsExpiringSoon(5*time.Minute) {
		return *tok, nil
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) (Token, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.profile.AppKey,
		"appsecret":  c.profile.AppSecret,
	})
	if err != nil {
		return Token{}, apperr.Wrap(apperr.KindAuth, "liveclient.refreshToken", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return Token{}, apperr.Wrap(apperr.KindAuth, "liveclient.refreshToken", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, apperr.New(apperr.KindRetryable, "liveclient.refreshToken", "token request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, apperr.Wrap(apperr.KindAuth, "liveclient.refreshToken", err)
	}

	accessToken := gjson.GetBytes(raw, "access_token").String()
	if accessToken == "" {
		return Token{}, apperr.New(apperr.KindAuth, "liveclient.refreshToken", "token response missing access_token: %s", raw)
	}
	tokenType := gjson.GetBytes(raw, "token_type").String()
	expiresIn := int(gjson.GetBytes(raw, "expires_in").Int())

	tok := newToken(accessToken, tokenType, expiresIn)
	if err := SaveToken(c.tokenPath, tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// classify maps a non-zero rt_cd/msg_cd JSON envelope onto the apperr Kind
// the retry loop understands.
func classify(op string, rtCd, msgCd, msg1 string) error {
	if strings.Contains(msgCd, rateLimitCode) || strings.Contains(msg1, rateLimitCode) ||
		strings.Contains(msg1, "초당 거래건수") || strings.Contains(msg1, "Too Many Requests") {
		return apperr.New(apperr.KindRetryable, op, "rate limited: rt_cd=%s msg_cd=%s msg1=%s", rtCd, msgCd, msg1)
	}
	if strings.Contains(msgCd, tokenExpiredCD) || strings.Contains(msg1, tokenExpiredKO) ||
		strings.Contains(strings.ToLower(msg1), "token expired") {
		return apperr.New(apperr.KindExpired, op, "token expired: rt_cd=%s msg_cd=%s msg1=%s", rtCd, msgCd, msg1)
	}
	return apperr.New(apperr.KindExecution, op, "api error: rt_cd=%s msg_cd=%s msg1=%s", rtCd, msgCd, msg1)
}

// call performs a single HTTP round trip against the brokerage, tagging
// trAppKey-style headers, and returns the parsed JSON body alongside any
// rt_cd error translated by classify.
func (c *Client) call(ctx context.Context, tok Token, method, path, trID string, query map[string]string, body map[string]any) (gjson.Result, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, apperr.Wrap(apperr.KindExecution, "liveclient.call", err)
		}
		reqBody = bytes.NewReader(b)
	}

	url := c.profile.BaseURL + path
	if len(query) > 0 {
		var sb strings.Builder
		sb.WriteString(url)
		sb.WriteByte('?')
		first := true
		for k, v := range query {
			if !first {
				sb.WriteByte('&')
			}
			first = false
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
		url = sb.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindExecution, "liveclient.call", err)
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	req.Header.Set("authorization", tok.TokenType+" "+tok.AccessToken)
	req.Header.Set("appkey", c.profile.AppKey)
	req.Header.Set("appsecret", c.profile.AppSecret)
	req.Header.Set("tr_id", trID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, apperr.New(apperr.KindRetryable, "liveclient.call", "%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, apperr.Wrap(apperr.KindExecution, "liveclient.call", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return gjson.Result{}, apperr.New(apperr.KindRetryable, "liveclient.call", "%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	parsed := gjson.ParseBytes(raw)

	rtCd := parsed.Get("rt_cd").String()
	if rtCd != "0" {
		return gjson.Result{}, classify(trID, rtCd, parsed.Get("msg_cd").String(), parsed.Get("msg1").String())
	}
	return parsed, nil
}

// do wraps call with the shared retry/refresh policy, gated by the
// breaker: an open breaker fails fast without ever reaching the network,
// and every outcome feeds back into its failure count.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context, tok Token) (gjson.Result, error)) (gjson.Result, error) {
	if !c.breaker.Allow() {
		return gjson.Result{}, apperr.New(apperr.KindRetryable, op, "circuit breaker open for %s", c.profile.BaseURL)
	}

	var result gjson.Result
	var tok Token
	err := Do(ctx, c.policy,
		func(ctx context.Context) error {
			t, err := c.refreshToken(ctx)
			if err != nil {
				return err
			}
			tok = t
			return nil
		},
		func(ctx context.Context) error {
			if tok.AccessToken == "" {
				t, err := c.ensureToken(ctx)
				if err != nil {
					return err
				}
				tok = t
			}
			r, err := fn(ctx, tok)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
	)
	if err != nil {
		c.breaker.RecordFailure()
		return gjson.Result{}, apperr.Wrap(apperr.KindExecution, op, err)
	}
	c.breaker.RecordSuccess()
	return result, nil
}

// ExecuteOrder submits a market order and records the returned order id and
// its originating branch code for later fill lookups.
func (c *Client) ExecuteOrder(ctx context.Context, order tradingtypes.Order) (string, error) {
	trID := "VTTC0802U"
	if order.Side == tradingtypes.SideSell {
		trID = "VTTC0801U"
	}

	result, err := c.do(ctx, "liveclient.ExecuteOrder", func(ctx context.Context, tok Token) (gjson.Result, error) {
		return c.call(ctx, tok, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", trID, nil, map[string]any{
			"CANO":         c.accountNumber,
			"PDNO":         order.StockCode,
			"ORD_DVSN":     "01",
			"ORD_QTY":      strconv.FormatInt(order.Quantity, 10),
			"ORD_UNPR":     "0",
		})
	})
	if err != nil {
		return "", err
	}

	orderID := result.Get("output.ODNO").String()
	if orderID == "" {
		return "", apperr.New(apperr.KindExecution, "liveclient.ExecuteOrder", "order response missing ODNO")
	}
	c.branchByOrder[orderID] = result.Get("output.KRX_FWDG_ORD_ORGNO").String()
	return orderID, nil
}

// CheckFill looks up today's execution status for orderID.
func (c *Client) CheckFill(ctx context.Context, orderID string) (execution.Fill, error) {
	today := time.Now().Format("20060102")
	branch := c.branchByOrder[orderID]

	result, err := c.do(ctx, "liveclient.CheckFill", func(ctx context.Context, tok Token) (gjson.Result, error) {
		return c.call(ctx, tok, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-daily-ccld", "TTTC8001R", map[string]string{
			"CANO":           c.accountNumber,
			"INQR_STRT_DT":   today,
			"INQR_END_DT":    today,
			"SLL_BUY_DVSN_CD": "00",
			"ORD_GNO_BRNO":   branch,
			"ODNO":           orderID,
			"CCLD_DVSN":      "00",
			"INQR_DVSN":      "00",
			"INQR_DVSN_3":    "00",
			"EXCG_ID_DVSN_CD": "01",
		}, nil)
	})
	if err != nil {
		return execution.Fill{}, err
	}

	var match gjson.Result
	found := false
	for _, row := range result.Get("output1").Array() {
		if row.Get("odno").String() == orderID {
			match = row
			found = true
			break
		}
	}
	if !found {
		return execution.Fill{State: execution.FillStatePending}, nil
	}

	filledQty := match.Get("tot_ccld_qty").Int()
	remainQty := match.Get("rmn_qty").Int()
	if filledQty == 0 {
		return execution.Fill{State: execution.FillStatePending}, nil
	}
	state := execution.FillStatePending
	if remainQty == 0 {
		state = execution.FillStateFilled
	}
	price, err := decimal.NewFromString(match.Get("avg_prvs").String())
	if err != nil {
		return execution.Fill{}, apperr.Wrap(apperr.KindData, "liveclient.CheckFill", err)
	}
	return execution.Fill{State: state, Price: price, Quantity: filledQty}, nil
}

// CancelOrder requests cancellation of a still-open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	branch := c.branchByOrder[orderID]
	_, err := c.do(ctx, "liveclient.CancelOrder", func(ctx context.Context, tok Token) (gjson.Result, error) {
		return c.call(ctx, tok, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-rvsecncl", "VTTC0803U", nil, map[string]any{
			"CANO":            c.accountNumber,
			"ORGN_ODNO":       orderID,
			"ORD_GNO_BRNO":    branch,
			"RVSE_CNCL_DVSN_CD": "02",
			"ORD_DVSN":        "00",
			"ORD_QTY":         "0",
			"ORD_UNPR":        "0",
			"QTY_ALL_ORD_YN":  "Y",
		})
	})
	return err
}

// GetBalance returns the account's available cash and total valuation.
func (c *Client) GetBalance(ctx context.Context) (tradingtypes.Balance, error) {
	result, err := c.do(ctx, "liveclient.GetBalance", func(ctx context.Context, tok Token) (gjson.Result, error) {
		return c.call(ctx, tok, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", "TTTC8434R", map[string]string{
			"CANO": c.accountNumber,
			"AFHR_FLPR_YN": "N", "OFL_YN": "", "INQR_DVSN": "02",
			"UNPR_DVSN": "01", "FUND_STTL_ICLD_YN": "N", "FNCG_AMT_AUTO_RDPT_YN": "N",
			"PRCS_DVSN": "00",
		}, nil)
	})
	if err != nil {
		return tradingtypes.Balance{}, err
	}

	rows := result.Get("output2").Array()
	if len(rows) == 0 {
		return tradingtypes.Balance{}, apperr.New(apperr.KindExecution, "liveclient.GetBalance", "balance response missing output2")
	}
	cash, err := decimal.NewFromString(rows[0].Get("dnca_tot_amt").String())
	if err != nil {
		return tradingtypes.Balance{}, apperr.Wrap(apperr.KindData, "liveclient.GetBalance", err)
	}
	total, err := decimal.NewFromString(rows[0].Get("tot_evlu_amt").String())
	if err != nil {
		return tradingtypes.Balance{}, apperr.Wrap(apperr.KindData, "liveclient.GetBalance", err)
	}
	return tradingtypes.Balance{Cash: cash, TotalAsset: total}, nil
}

// GetAveragePrice returns the weighted-average cost basis for stockCode
// from the account's current holdings.
func (c *Client) GetAveragePrice(ctx context.Context, stockCode string) (decimal.Decimal, error) {
	result, err := c.do(ctx, "liveclient.GetAveragePrice", func(ctx context.Context, tok Token) (gjson.Result, error) {
		return c.call(ctx, tok, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", "TTTC8434R", map[string]string{
			"CANO": c.accountNumber,
			"AFHR_FLPR_YN": "N", "OFL_YN": "", "INQR_DVSN": "02",
			"UNPR_DVSN": "01", "FUND_STTL_ICLD_YN": "N", "FNCG_AMT_AUTO_RDPT_YN": "N",
			"PRCS_DVSN": "00",
		}, nil)
	})
	if err != nil {
		return decimal.Zero, err
	}

	for _, row := range result.Get("output1").Array() {
		if row.Get("pdno").String() == stockCode {
			return decimal.NewFromString(row.Get("pchs_avg_pric").String())
		}
	}
	return decimal.Zero, apperr.New(apperr.KindExecution, "liveclient.GetAveragePrice", "no position in %q", stockCode)
}

// GetCurrentPrice returns the latest quote for stockCode. at is ignored:
// live quotes have no notion of a historical instant.
func (c *Client) GetCurrentPrice(ctx context.Context, stockCode string, at time.Time) (decimal.Decimal, error) {
	result, err := c.do(ctx, "liveclient.GetCurrentPrice", func(ctx context.Context, tok Token) (gjson.Result, error) {
		return c.call(ctx, tok, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-price", "FHKST01010100", map[string]string{
			"FID_COND_MRKT_DIV_CODE": "J",
			"FID_INPUT_ISCD":         stockCode,
		}, nil)
	})
	if err != nil {
		return decimal.Zero, err
	}
	price := result.Get("output.stck_prpr").String()
	if price == "" {
		return decimal.Zero, apperr.New(apperr.KindExecution, "liveclient.GetCurrentPrice", "price response missing stck_prpr for %q", stockCode)
	}
	return decimal.NewFromString(price)
}

func (c *Client) String() string {
	return fmt.Sprintf("liveclient.Client{base=%s}", c.profile.BaseURL)
}
