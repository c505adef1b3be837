package rpcclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexQuantityEncodesWithoutLeadingZeros(t *testing.T) {
	require.Equal(t, "0x0", hexQuantity(0))
	require.Equal(t, "0x10", hexQuantity(16))
	require.Equal(t, "0xff", hexQuantity(255))
}

func TestRawMessageRoundTripsThroughJSON(t *testing.T) {
	var m rawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"number":"0x1"}`), &m))
	require.JSONEq(t, `{"number":"0x1"}`, string(m))

	encoded, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"number":"0x1"}`, string(encoded))
}

func TestRawMessageMarshalsNullWhenNil(t *testing.T) {
	var m rawMessage
	encoded, err := m.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, "null", string(encoded))
}
