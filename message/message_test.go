package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const pingProtocol = `{
  "protocol": "Ping",
  "messages": {
    "ping": {"request": [], "response": "string"}
  }
}`

func TestNewServicePing(t *testing.T) {
	svc, err := NewService([]byte(pingProtocol))
	require.NoError(t, err)
	require.Equal(t, "Ping", svc.Name)
	require.Contains(t, svc.MessageNames(), "ping")

	m := svc.Messages["ping"]
	require.False(t, m.OneWay)
	require.True(t, m.HasError)
	require.True(t, m.ErrorType.IsStringFirst())
}

const echoProtocol = `{
  "protocol": "Echo",
  "messages": {
    "echo": {"request": [{"name": "s", "type": "string"}], "response": "string"},
    "greet": {"request": [{"name": "name", "type": "string"}], "response": "null", "one-way": true},
    "divide": {
      "request": [{"name": "a", "type": "int"}, {"name": "b", "type": "int"}],
      "response": "int",
      "errors": [{"type": "record", "name": "DivByZero", "fields": []}]
    }
  }
}`

func TestNewServiceMultipleMessages(t *testing.T) {
	svc, err := NewService([]byte(echoProtocol))
	require.NoError(t, err)

	echo := svc.Messages["echo"]
	require.Equal(t, []string{"s"}, echo.RequestType.FieldNames())

	greet := svc.Messages["greet"]
	require.True(t, greet.OneWay)
	require.Nil(t, greet.ResponseType)
	require.Len(t, greet.ErrorType.Branches, 1)

	divide := svc.Messages["divide"]
	require.Len(t, divide.ErrorType.Branches, 2)
	require.True(t, divide.ErrorType.IsStringFirst())
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a, err := NewService([]byte(pingProtocol))
	require.NoError(t, err)
	b, err := NewService([]byte(echoProtocol))
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, b.Fingerprint)

	c, err := NewService([]byte(pingProtocol))
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, c.Fingerprint)
}
