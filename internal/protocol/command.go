package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/marketstream/internal/model"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownCommand = errors.New("unknown command")
)

// Command is a decoded inbound frame. The set of implementations is closed.
type Command interface {
	command()
}

// ChangeSubscriptions replaces every subscription of Type with Instruments.
type ChangeSubscriptions struct {
	Type        model.DataType
	Instruments []model.InstrumentSpec
}

// UpdateSubscriptions asks the server to rebind to the current subscription set.
type UpdateSubscriptions struct{}

// Ready is the client liveness acknowledgment.
type Ready struct{}

func (ChangeSubscriptions) command() {}
func (UpdateSubscriptions) command() {}
func (Ready) command()               {}

// Wire command names.
const (
	CmdChangeTickers          = "CHANGE_TICKERS"
	CmdChangeOpenOrders       = "CHANGE_OPEN_ORDERS"
	CmdChangeOrderBook        = "CHANGE_ORDER_BOOK"
	CmdChangeTrades           = "CHANGE_TRADES"
	CmdChangeUserTradeHistory = "CHANGE_USER_TRADE_HISTORY"
	CmdChangeBalance          = "CHANGE_BALANCE"
	CmdUpdateSubscriptions    = "UPDATE_SUBSCRIPTIONS"
	CmdReady                  = "READY"
)

var changeCommands = map[string]model.DataType{
	CmdChangeTickers:          model.Ticker,
	CmdChangeOpenOrders:       model.OpenOrders,
	CmdChangeOrderBook:        model.OrderBook,
	CmdChangeTrades:           model.Trades,
	CmdChangeUserTradeHistory: model.UserTradeHistory,
	CmdChangeBalance:          model.Balance,
}

// commandWire is the inbound wire format.
type commandWire struct {
	Command string                 `json:"command"`
	Tickers []model.InstrumentSpec `json:"tickers"`
}

// DecodeCommand parses one inbound frame.
func DecodeCommand(data []byte) (Command, error) {
	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch wire.Command {
	case CmdUpdateSubscriptions:
		return UpdateSubscriptions{}, nil
	case CmdReady:
		return Ready{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing command", ErrMalformedFrame)
	}

	dataType, ok := changeCommands[wire.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, wire.Command)
	}

	for i, spec := range wire.Tickers {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("tickers[%d]: %w", i, err)
		}
	}

	return ChangeSubscriptions{Type: dataType, Instruments: wire.Tickers}, nil
}

// EncodeCommand builds an inbound frame. Used by clients and tests.
func EncodeCommand(cmd Command) ([]byte, error) {
	var wire commandWire
	switch c := cmd.(type) {
	case ChangeSubscriptions:
		for name, dt := range changeCommands {
			if dt == c.Type {
				wire.Command = name
				break
			}
		}
		if wire.Command == "" {
			return nil, fmt.Errorf("%w: no change command for %s", ErrUnknownCommand, c.Type)
		}
		wire.Tickers = c.Instruments
		if wire.Tickers == nil {
			wire.Tickers = []model.InstrumentSpec{}
		}
	case UpdateSubscriptions:
		wire.Command = CmdUpdateSubscriptions
	case Ready:
		wire.Command = CmdReady
	}
	return json.Marshal(wire)
}
