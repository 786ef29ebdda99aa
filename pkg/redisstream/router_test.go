package redisstream

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeadAVA/CHATBOT/pkg/events"
)

func TestBuildRouter_InMemoryWhenDisabled(t *testing.T) {
	r, err := BuildRouter(DefaultSettings(), false)
	require.NoError(t, err)
	require.NotNil(t, r.Publisher)
	require.NotNil(t, r.Subscriber)
	require.NoError(t, r.Sink().PublishEvent(events.NewConversationCleared("c1")))
	require.NoError(t, r.Close())
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.False(t, s.Enabled)
	require.Equal(t, "localhost:6379", s.Addr)
	require.Empty(t, s.Consumer)
}

func TestConsumerName(t *testing.T) {
	s := DefaultSettings()
	name := s.ConsumerName()
	require.True(t, strings.HasSuffix(name, fmt.Sprintf("-%d", os.Getpid())), name)
	require.Equal(t, name, s.ConsumerName())

	s.Consumer = "ui-7"
	require.Equal(t, "ui-7", s.ConsumerName())
}

func TestBuildGroupSubscriber_CloseTwice(t *testing.T) {
	// no connection is made until Subscribe
	sub, err := BuildGroupSubscriber("localhost:6379", "chatbot-ui-turnlog", "test")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}
