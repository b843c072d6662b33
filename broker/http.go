package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

// HTTPClient habla JSON/HTTP con el servicio de pool de conexiones.
//
// Cada endpoint del pool responde con un envelope
// {"success": bool, "error_code": "...", "error": "...", ...payload}.
// Los errores de red y timeouts se clasifican como transitorios; los
// rechazos del broker llegan con su error_code y se propagan tal cual.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient crea un cliente hacia el pool.
//
// El timeout por request lo pone el caller vía context; el client HTTP
// no fija uno propio para no pisar los deadlines de la capa superior.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// GetAccountInfo implementa Client.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, accountID, region string) (*AccountInfo, error) {
	var info AccountInfo
	path := fmt.Sprintf("/accounts/%s/info", url.PathEscape(accountID))
	if err := c.get(ctx, path, region, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPositions implementa Client.
func (c *HTTPClient) GetPositions(ctx context.Context, accountID, region string) ([]*Position, error) {
	var positions []*Position
	path := fmt.Sprintf("/accounts/%s/positions", url.PathEscape(accountID))
	if err := c.get(ctx, path, region, nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetTradeHistory implementa Client.
func (c *HTTPClient) GetTradeHistory(ctx context.Context, accountID, region string, days, limit int) ([]*Deal, error) {
	var deals []*Deal
	path := fmt.Sprintf("/accounts/%s/history", url.PathEscape(accountID))
	query := url.Values{
		"days":  []string{strconv.Itoa(days)},
		"limit": []string{strconv.Itoa(limit)},
	}
	if err := c.get(ctx, path, region, query, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}

// ExecuteTrade implementa Client.
func (c *HTTPClient) ExecuteTrade(ctx context.Context, accountID, region string, req *OrderRequest) (*OrderResult, error) {
	var result OrderResult
	path := fmt.Sprintf("/accounts/%s/trade", url.PathEscape(accountID))
	if err := c.post(ctx, path, region, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClosePosition implementa Client.
func (c *HTTPClient) ClosePosition(ctx context.Context, accountID, region, positionID string) (*CloseResult, error) {
	var result CloseResult
	path := fmt.Sprintf("/accounts/%s/positions/%s/close",
		url.PathEscape(accountID), url.PathEscape(positionID))
	if err := c.post(ctx, path, region, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) get(ctx context.Context, path, region string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, region, query, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path, region string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, region, nil, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path, region string, query url.Values, body, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	if region != "" {
		query.Set("region", region)
	}

	fullURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.WrapError(domain.ErrUnknown, "encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return domain.WrapError(domain.ErrUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewError(domain.ErrTooManyRequests, "pool rate limit")
	}
	if resp.StatusCode >= 500 {
		return domain.NewError(domain.ErrBrokerBusy,
			fmt.Sprintf("pool returned %d", resp.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return domain.WrapError(domain.ErrConnectionLost, "decode pool response", err)
	}

	if !env.Success {
		code := domain.ErrorCode(env.ErrorCode)
		if code == "" {
			code = domain.ErrUnknown
		}
		return domain.NewError(code, env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.WrapError(domain.ErrUnknown, "decode pool payload", err)
		}
	}
	return nil
}

// classifyTransportError mapea errores de red del lado Go a la
// taxonomía del dominio.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return domain.WrapError(domain.ErrTimeout, "pool request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return domain.WrapError(domain.ErrTimeout, "pool request timed out", err)
	}
	return domain.WrapError(domain.ErrConnectionLost, "pool unreachable", err)
}
