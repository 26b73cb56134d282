package trader

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/martistream/internal/domain"
)

const (
	clientOrderPrefix = "mstream-"

	errCodeUnknownOrder = -2013
)

// ErrOrderNotFound is returned by GetOrder when the exchange does not know the order.
var ErrOrderNotFound = errors.New("order does not exist")

// OrderRequest describes a spot order to place.
type OrderRequest struct {
	Symbol string
	// Side is BUY or SELL.
	Side string
	// Type is MARKET or LIMIT.
	Type     string
	Quantity decimal.Decimal
	// Price is required for LIMIT orders and ignored for MARKET orders.
	Price decimal.Decimal
}

// Validate checks the request before it is sent.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("symbol is required")
	}
	if r.Side != string(binance.SideTypeBuy) && r.Side != string(binance.SideTypeSell) {
		return errors.Errorf("unsupported side %q", r.Side)
	}
	if !r.Quantity.IsPositive() {
		return errors.New("quantity must be positive")
	}

	switch binance.OrderType(r.Type) {
	case binance.OrderTypeMarket:
	case binance.OrderTypeLimit:
		if !r.Price.IsPositive() {
			return errors.New("limit order needs a positive price")
		}
	default:
		return errors.Errorf("unsupported order type %q", r.Type)
	}

	return nil
}

// Binance is the REST side of the exchange: order placement, order queries and user-data listen keys.
type Binance struct {
	client *binance.Client
}

func NewBinance(client *binance.Client) *Binance {
	return &Binance{client: client}
}

// PlaceOrder sends a spot order and returns its exchange order id.
func (t *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, errors.Wrap(err, "invalid order request")
	}

	svc := t.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(req.Quantity.String()).
		NewClientOrderID(clientOrderPrefix + uuid.NewString()[:24])

	if binance.OrderType(req.Type) == binance.OrderTypeLimit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(req.Price.String())
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to place binance %s %s order for %s", req.Type, req.Side, req.Symbol)
	}

	return resp.OrderID, nil
}

// GetOrder fetches the current state of an order.
func (t *Binance) GetOrder(ctx context.Context, symbol string, orderID int64) (domain.Order, error) {
	order, err := t.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == errCodeUnknownOrder {
			return domain.Order{}, errors.Wrapf(ErrOrderNotFound, "order %d on %s", orderID, symbol)
		}
		return domain.Order{}, errors.Wrapf(err, "failed to query binance order %d on %s", orderID, symbol)
	}

	return OrderFromBinance(order)
}

// OrderFromBinance converts a REST order into the cached order shape.
func OrderFromBinance(o *binance.Order) (domain.Order, error) {
	if o == nil {
		return domain.Order{}, errors.New("empty binance order")
	}

	price, err := parseFloat(o.Price, "price")
	if err != nil {
		return domain.Order{}, err
	}
	filled, err := parseFloat(o.ExecutedQuantity, "executed quantity")
	if err != nil {
		return domain.Order{}, err
	}
	quote, err := parseFloat(o.CummulativeQuoteQuantity, "cumulative quote quantity")
	if err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		ID:                       o.OrderID,
		Symbol:                   o.Symbol,
		Side:                     string(o.Side),
		Type:                     string(o.Type),
		Status:                   string(o.Status),
		Price:                    price,
		CumulativeFilledQuantity: filled,
		CumulativeQuoteQuantity:  quote,
		TransactionTime:          o.Time,
	}, nil
}

// StartUserStream creates a listen key for the user-data stream.
func (t *Binance) StartUserStream(ctx context.Context) (string, error) {
	key, err := t.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to start binance user stream")
	}
	return key, nil
}

// KeepaliveUserStream extends the validity of a listen key.
func (t *Binance) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	if err := t.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return errors.Wrap(err, "failed to keep binance user stream alive")
	}
	return nil
}

// CloseUserStream invalidates a listen key.
func (t *Binance) CloseUserStream(ctx context.Context, listenKey string) error {
	if err := t.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return errors.Wrap(err, "failed to close binance user stream")
	}
	return nil
}

func parseFloat(s, field string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %s", field)
	}
	return f, nil
}
