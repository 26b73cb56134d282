package binance

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/martistream/internal/stream"
)

// payload keeps the raw fields of one message. Binance reuses letters in both cases for
// different fields (b/B, z/Z), so fields are looked up by exact key instead of struct tags.
type payload map[string]json.RawMessage

// decodeMessage turns one websocket frame into an event. Combined stream frames are unwrapped first.
func decodeMessage(msg []byte) (stream.Event, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, errors.New("empty message")
	}

	if msg[0] == '[' {
		return decodeMiniTickers(msg)
	}

	var p payload
	if err := json.Unmarshal(msg, &p); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}

	if data, ok := p["data"]; ok {
		if _, combined := p["stream"]; combined {
			var name string
			if err := json.Unmarshal(p["stream"], &name); err != nil {
				return nil, errors.Wrap(err, "decode stream name")
			}
			return decodeStreamData(name, data)
		}
	}

	return decodePayload("", p, msg)
}

func decodeStreamData(name string, data json.RawMessage) (stream.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return decodeMiniTickers(data)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "decode %s data", name)
	}

	return decodePayload(name, p, data)
}

func decodePayload(streamName string, p payload, raw json.RawMessage) (stream.Event, error) {
	eventType, err := p.optionalStr("e")
	if err != nil {
		return nil, err
	}

	// book ticker frames carry no event type
	if eventType == "" && (strings.HasSuffix(streamName, "@bookTicker") || p.has("u", "s", "b", "a")) {
		return decodeBookTicker(p)
	}

	switch eventType {
	case stream.EventExecutionReport:
		return decodeExecutionReport(p)
	case stream.EventBalanceUpdate:
		return decodeBalanceUpdate(p)
	case stream.EventOutboundAccountPosition, stream.EventOutboundAccountInfo:
		return decodeAccountPosition(eventType, p)
	case stream.EventBookTicker:
		return decodeBookTicker(p)
	default:
		return stream.Unknown{Type: eventType, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeExecutionReport(p payload) (stream.Event, error) {
	var (
		r   stream.ExecutionReport
		err error
	)

	if r.Symbol, err = p.str("s"); err != nil {
		return nil, err
	}
	if r.Side, err = p.str("S"); err != nil {
		return nil, err
	}
	if r.OrderType, err = p.str("o"); err != nil {
		return nil, err
	}
	if r.OrderID, err = p.int("i"); err != nil {
		return nil, err
	}
	if r.CumulativeQuoteQuantity, err = p.float("Z"); err != nil {
		return nil, err
	}
	if r.CumulativeFilledQuantity, err = p.float("z"); err != nil {
		return nil, err
	}
	if r.Status, err = p.str("X"); err != nil {
		return nil, err
	}
	if r.Price, err = p.float("p"); err != nil {
		return nil, err
	}
	if r.TransactionTime, err = p.int("T"); err != nil {
		return nil, err
	}

	return r, nil
}

func decodeBalanceUpdate(p payload) (stream.Event, error) {
	asset, err := p.str("a")
	if err != nil {
		return nil, err
	}
	delta, err := p.float("d")
	if err != nil {
		return nil, err
	}

	return stream.BalanceUpdate{Asset: asset, Delta: delta}, nil
}

func decodeAccountPosition(eventType string, p payload) (stream.Event, error) {
	var entries []payload
	if raw, ok := p["B"]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, errors.Wrap(err, "decode account balances")
		}
	}

	pos := stream.AccountPosition{Type: eventType, Balances: make([]stream.AssetBalance, 0, len(entries))}
	for _, e := range entries {
		var (
			b   stream.AssetBalance
			err error
		)
		if b.Asset, err = e.str("a"); err != nil {
			return nil, err
		}
		if b.Free, err = e.float("f"); err != nil {
			return nil, err
		}
		if b.Locked, err = e.float("l"); err != nil {
			return nil, err
		}
		pos.Balances = append(pos.Balances, b)
	}

	return pos, nil
}

func decodeMiniTickers(msg []byte) (stream.Event, error) {
	var entries []payload
	if err := json.Unmarshal(msg, &entries); err != nil {
		return nil, errors.Wrap(err, "decode mini tickers")
	}

	out := make(stream.MiniTickers, 0, len(entries))
	for _, e := range entries {
		var (
			t   stream.MiniTicker
			err error
		)
		if t.Symbol, err = e.str("s"); err != nil {
			return nil, err
		}
		if t.ClosePrice, err = e.float("c"); err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, nil
}

func decodeBookTicker(p payload) (stream.Event, error) {
	var (
		t   stream.BookTicker
		err error
	)

	if t.Symbol, err = p.str("s"); err != nil {
		return nil, err
	}
	if t.BestBid, err = p.float("b"); err != nil {
		return nil, err
	}
	if t.BestAsk, err = p.float("a"); err != nil {
		return nil, err
	}

	return t, nil
}

func (p payload) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := p[k]; !ok {
			return false
		}
	}
	return true
}

// errMissingField drops frames that lack a required field. A missing balance is unknown, not zero.
var errMissingField = errors.New("missing field")

func (p payload) field(key string) (json.RawMessage, error) {
	raw, ok := p[key]
	if !ok || string(raw) == "null" {
		return nil, errors.Wrapf(errMissingField, "%q", key)
	}
	return raw, nil
}

// optionalStr returns an empty string for an absent key.
func (p payload) optionalStr(key string) (string, error) {
	if _, ok := p[key]; !ok {
		return "", nil
	}
	return p.str(key)
}

func (p payload) str(key string) (string, error) {
	raw, err := p.field(key)
	if err != nil {
		return "", err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.Wrapf(err, "field %q is not a string", key)
	}
	return s, nil
}

// float accepts both quoted decimals, as sent for prices and quantities, and bare numbers.
func (p payload) float(key string) (float64, error) {
	raw, err := p.field(key)
	if err != nil {
		return 0, err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return 0, errors.Wrapf(err, "field %q is not a number", key)
		}
		return f, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "field %q is not a number", key)
	}
	return f, nil
}

func (p payload) int(key string) (int64, error) {
	raw, err := p.field(key)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errors.Wrapf(err, "field %q is not an integer", key)
	}
	return n, nil
}
