package twilio_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/replyflow/pkg/customers"
	"github.com/dukex/replyflow/pkg/messaging/twilio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	args := m.Called(*params.To, *params.From, *params.Body)

	message, _ := args.Get(0).(*twilioApi.ApiV2010Message)

	return message, args.Error(1)
}

func sid(value string) *twilioApi.ApiV2010Message {
	return &twilioApi.ApiV2010Message{Sid: &value}
}

func TestSend_ResolvesAddressFromStore(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateMessage", "whatsapp:+15550100", "whatsapp:+15550199", "Our price is $10").Return(sid("SM1"), nil)

	store := customers.NewMemoryStore()
	require.NoError(t, store.SetAddress(context.Background(), "conv-1", "+15550100"))

	messenger, err := twilio.NewMessengerWithAPI(api, "whatsapp:+15550199", store, slog.Default())
	require.NoError(t, err)

	id, err := messenger.Send(context.Background(), "conv-1", "Our price is $10")
	require.NoError(t, err)
	assert.Equal(t, "SM1", id)
	api.AssertExpectations(t)
}

func TestSend_ConversationIsAddress(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateMessage", "+15550100", "+15550199", "hi").Return(sid("SM2"), nil)

	messenger, err := twilio.NewMessengerWithAPI(api, "+15550199", customers.NewMemoryStore(), slog.Default())
	require.NoError(t, err)

	_, err = messenger.Send(context.Background(), "+15550100", "hi")
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestSend_Errors(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateMessage", "+15550100", "+15550199", "hi").Return(nil, errors.New("rate limited"))

	messenger, err := twilio.NewMessengerWithAPI(api, "+15550199", nil, slog.Default())
	require.NoError(t, err)

	_, err = messenger.Send(context.Background(), "conv-unknown", "hi")
	require.ErrorIs(t, err, twilio.ErrNoAddress)

	_, err = messenger.Send(context.Background(), "+15550100", "hi")
	assert.ErrorContains(t, err, "rate limited")
}

func TestNewMessenger_Validates(t *testing.T) {
	_, err := twilio.NewMessenger(twilio.Config{From: "+1"}, nil, slog.Default())
	assert.ErrorIs(t, err, twilio.ErrMissingCredentials)

	_, err = twilio.NewMessenger(twilio.Config{AccountSID: "AC1", AuthToken: "t"}, nil, slog.Default())
	assert.ErrorIs(t, err, twilio.ErrMissingFrom)
}
