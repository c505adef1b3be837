package dbstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNullableTimeReturnsNilForZeroValue(t *testing.T) {
	require.Nil(t, nullableTime(time.Time{}))
}

func TestNullableTimeReturnsConcreteTimeOtherwise(t *testing.T) {
	now := time.Now()
	got := nullableTime(now)
	require.Equal(t, now, got)
}

func TestBlockNotificationMarshalsExpectedShape(t *testing.T) {
	n := blockNotification{Number: 42, Hash: "0xabc", Timestamp: 1000, TransactionCount: 3}
	data, err := json.Marshal(n)
	require.NoError(t, err)
	require.JSONEq(t, `{"number":42,"hash":"0xabc","timestamp":1000,"transaction_count":3}`, string(data))
}
