package execution

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execcore/internal/coreerr"
	"github.com/web3guy0/execcore/internal/money"
	"github.com/web3guy0/execcore/internal/types"
)

// LiveBackend dispatches orders to a conventional custodial exchange
// over a time-windowed HMAC-signed REST API, and consumes an
// authenticated order-update stream over WebSocket for fill
// confirmation. Grounded on the teacher's exec.Client.addHeaders /
// hmacSign (POLY_TIMESTAMP + HMAC-SHA256 request signing), adapted from
// Polymarket's on-chain CLOB headers to a generic REST signature scheme
// appropriate for a custodial exchange.
type LiveBackend struct {
	baseURL   string
	wsURL     string
	apiKey    string
	apiSecret string
	http      *http.Client
	limiter   *tokenBucket
}

// NewLiveBackend builds a Live backend. An empty apiSecret is
// permitted for a dry-run deployment; requests are still sent, just
// unsigned, matching the teacher's "sign only if apiSecret is set"
// behavior in addHeaders.
func NewLiveBackend(baseURL, wsURL, apiKey, apiSecret string) *LiveBackend {
	return &LiveBackend{
		baseURL:   baseURL,
		wsURL:     wsURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 10 * time.Second},
		limiter:   newTokenBucket(8, 16),
	}
}

func (b *LiveBackend) Name() string { return "live" }

type orderPayload struct {
	Instrument    string `json:"instrument"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	OrderType     string `json:"order_type"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	OrderID       string `json:"order_id"`
	FilledQty     string `json:"filled_quantity"`
	AvgFillPrice  string `json:"avg_fill_price"`
	Fees          string `json:"fees"`
	AcceptedAtUTC string `json:"accepted_at"`
	SettledAtUTC  string `json:"settled_at"`
}

func (b *LiveBackend) PlaceOrder(ctx context.Context, req OrderRequest) (types.OrderReceipt, error) {
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = deriveClientOrderID(req)
	}
	payload := orderPayload{
		Instrument:    string(req.Instrument),
		Side:          string(req.Side),
		Quantity:      req.Quantity.QuantityString(),
		OrderType:     "MARKET",
		ClientOrderID: clientOrderID,
	}
	return b.submit(ctx, "/v1/orders", payload)
}

func (b *LiveBackend) ClosePosition(ctx context.Context, req OrderRequest) (types.OrderReceipt, error) {
	opposite := types.SideShort
	if req.Side == types.SideShort {
		opposite = types.SideLong
	}
	payload := orderPayload{
		Instrument:    string(req.Instrument),
		Side:          string(opposite),
		Quantity:      req.Quantity.QuantityString(),
		OrderType:     "MARKET",
		ClientOrderID: deriveClientOrderID(req),
	}
	return b.submit(ctx, "/v1/orders", payload)
}

func (b *LiveBackend) submit(ctx context.Context, path string, payload orderPayload) (types.OrderReceipt, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindTimeout, "rate limiter wait", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindExecutionFailed, "encode order payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindExecutionFailed, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.sign(req, body)

	resp, err := b.http.Do(req)
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindBackendUnavailable, "exchange request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindBackendUnavailable, "read exchange response", err)
	}

	if resp.StatusCode >= 400 {
		return types.OrderReceipt{}, classifyHTTPStatus(resp.StatusCode, string(respBody))
	}

	var parsed orderResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindExecutionFailed, "decode exchange response", err)
	}

	return toReceipt(parsed)
}

func toReceipt(r orderResponse) (types.OrderReceipt, error) {
	filled, err := money.New(zeroIfEmpty(r.FilledQty))
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindExecutionFailed, "parse filled quantity", err)
	}
	avgPrice, err := money.New(zeroIfEmpty(r.AvgFillPrice))
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindExecutionFailed, "parse fill price", err)
	}
	fees, err := money.New(zeroIfEmpty(r.Fees))
	if err != nil {
		return types.OrderReceipt{}, coreerr.Wrap(coreerr.KindExecutionFailed, "parse fees", err)
	}

	accepted, _ := time.Parse(time.RFC3339, r.AcceptedAtUTC)
	settled, _ := time.Parse(time.RFC3339, r.SettledAtUTC)

	return types.OrderReceipt{
		BackendOrderID:   r.OrderID,
		FilledQuantity:   filled,
		AverageFillPrice: avgPrice,
		Fees:             fees,
		AcceptedAt:       accepted,
		SettledAt:        settled,
	}, nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// GetOpenOrders lists resting orders, used by the Mode Orchestrator's
// pre-switch validation to refuse a PAPER->LIVE or LIVE->PAPER
// transition while the book is not flat.
func (b *LiveBackend) GetOpenOrders(ctx context.Context) ([]types.OrderRef, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, coreerr.Wrap(coreerr.KindTimeout, "rate limiter wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/orders/open", nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindExecutionFailed, "build request", err)
	}
	b.sign(req, nil)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindBackendUnavailable, "exchange request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindBackendUnavailable, "read exchange response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp.StatusCode, string(body))
	}

	var raw []struct {
		OrderID    string `json:"order_id"`
		Instrument string `json:"instrument"`
		Side       string `json:"side"`
		Quantity   string `json:"quantity"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, coreerr.Wrap(coreerr.KindExecutionFailed, "decode open orders", err)
	}

	refs := make([]types.OrderRef, 0, len(raw))
	for _, o := range raw {
		qty, err := money.New(zeroIfEmpty(o.Quantity))
		if err != nil {
			continue
		}
		refs = append(refs, types.OrderRef{
			BackendOrderID: o.OrderID,
			Instrument:     types.Symbol(o.Instrument),
			Side:           types.Side(o.Side),
			Quantity:       qty,
		})
	}
	return refs, nil
}

// sign applies a time-windowed HMAC-SHA256 signature over
// timestamp+method+path+body, matching the teacher's hmacSign message
// construction. An empty apiSecret leaves the request unsigned.
func (b *LiveBackend) sign(req *http.Request, body []byte) {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-API-KEY", b.apiKey)
	req.Header.Set("X-TIMESTAMP", ts)

	if b.apiSecret == "" {
		return
	}
	message := ts + req.Method + req.URL.Path + string(body)
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(message))
	req.Header.Set("X-SIGNATURE", base64.URLEncoding.EncodeToString(mac.Sum(nil)))
}

// deriveClientOrderID produces a deterministic idempotency key from the
// order request using Keccak256, so retried submissions of the same
// logical order collide into the same exchange-side client ID instead
// of creating duplicate orders.
func deriveClientOrderID(req OrderRequest) string {
	payload := fmt.Sprintf("%s|%s|%s|%s", req.Instrument, req.Side, req.Quantity.QuantityString(), req.ReferencePrice.QuantityString())
	digest := crypto.Keccak256([]byte(payload))
	return fmt.Sprintf("ord-%x", digest[:12])
}

// StreamOrderUpdates connects to the exchange's authenticated
// order-update WebSocket and forwards decoded updates to updates until
// ctx is cancelled or the connection drops. Grounded on the bot
// package's Telegram long-poll loop pattern, adapted to a push feed.
func (b *LiveBackend) StreamOrderUpdates(ctx context.Context, updates chan<- OrderUpdate) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return coreerr.Wrap(coreerr.KindBackendUnavailable, "connect order-update stream", err)
	}
	defer conn.Close()

	auth := map[string]string{"api_key": b.apiKey, "timestamp": fmt.Sprintf("%d", time.Now().Unix())}
	if err := conn.WriteJSON(auth); err != nil {
		return coreerr.Wrap(coreerr.KindBackendUnavailable, "authenticate order-update stream", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var msg OrderUpdate
		if err := conn.ReadJSON(&msg); err != nil {
			return coreerr.Wrap(coreerr.KindBackendUnavailable, "order-update stream closed", err)
		}
		select {
		case updates <- msg:
		case <-ctx.Done():
			return nil
		default:
			log.Warn().Str("order_id", msg.BackendOrderID).Msg("order-update subscriber full, dropping update")
		}
	}
}

// OrderUpdate is one message from the Live backend's order-update feed.
type OrderUpdate struct {
	BackendOrderID string `json:"order_id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_quantity"`
	AvgFillPrice   string `json:"avg_fill_price"`
}
