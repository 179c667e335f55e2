package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/model"
)

func TestDecodeCommand_ChangeCommands(t *testing.T) {
	tests := []struct {
		command string
		want    model.DataType
	}{
		{CmdChangeTickers, model.Ticker},
		{CmdChangeOpenOrders, model.OpenOrders},
		{CmdChangeOrderBook, model.OrderBook},
		{CmdChangeTrades, model.Trades},
		{CmdChangeUserTradeHistory, model.UserTradeHistory},
		{CmdChangeBalance, model.Balance},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			frame := `{"command":"` + tt.command + `","tickers":[{"exchange":"kraken","base":"BTC","counter":"USD"}]}`

			cmd, err := DecodeCommand([]byte(frame))
			require.NoError(t, err)

			change, ok := cmd.(ChangeSubscriptions)
			require.True(t, ok, "got %T", cmd)
			assert.Equal(t, tt.want, change.Type)
			assert.Equal(t, []model.InstrumentSpec{{Exchange: "kraken", Base: "BTC", Counter: "USD"}}, change.Instruments)
		})
	}
}

func TestDecodeCommand_ControlCommands(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"READY"}`))
	require.NoError(t, err)
	assert.Equal(t, Ready{}, cmd)

	cmd, err = DecodeCommand([]byte(`{"command":"UPDATE_SUBSCRIPTIONS"}`))
	require.NoError(t, err)
	assert.Equal(t, UpdateSubscriptions{}, cmd)
}

func TestDecodeCommand_MissingTickersClearsType(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"CHANGE_TRADES"}`))
	require.NoError(t, err)

	change := cmd.(ChangeSubscriptions)
	assert.Equal(t, model.Trades, change.Type)
	assert.Empty(t, change.Instruments)
}

func TestDecodeCommand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `hello`, ErrMalformedFrame},
		{"array", `[1,2]`, ErrMalformedFrame},
		{"missing command", `{"tickers":[]}`, ErrMalformedFrame},
		{"unknown command", `{"command":"CHANGE_CANDLES"}`, ErrUnknownCommand},
		{"tickers wrong type", `{"command":"CHANGE_TICKERS","tickers":"BTC"}`, ErrMalformedFrame},
		{"invalid instrument", `{"command":"CHANGE_TICKERS","tickers":[{"exchange":"kraken","base":"BTC"}]}`, model.ErrInvalidInstrument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.frame))
			assert.Nil(t, cmd)
			assert.True(t, errors.Is(err, tt.want), "err = %v, want %v", err, tt.want)
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	data, err := EncodeCommand(ChangeSubscriptions{Type: model.OrderBook})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"CHANGE_ORDER_BOOK","tickers":[]}`, string(data))

	data, err = EncodeCommand(Ready{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"READY","tickers":null}`, string(data))

	_, err = EncodeCommand(ChangeSubscriptions{Type: model.UserTrade})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
