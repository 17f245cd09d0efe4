package twiliosms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, status, err := mock.SendMessage(ctx, "+4915112345678", "Hallo")
	require.NoError(t, err)
	assert.Equal(t, "queued", status)
	assert.Len(t, sid, 34)

	sent := mock.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hallo", sent[0].Body)

	mock.Err = errors.New("rejected")
	_, _, err = mock.SendMessage(ctx, "+4915112345678", "Hallo")
	assert.Error(t, err)
	assert.Len(t, mock.SentMessages(), 1)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	_, err := NewClient()
	assert.Error(t, err)

	_, err = NewClient(WithAccountSID("AC123"), WithAuthToken("secret"))
	assert.Error(t, err, "from number is required")

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret"), WithFrom("+4930123456"))
	require.NoError(t, err)
	assert.Equal(t, "+4930123456", c.from)
}
