package agentrelay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
)

func TestAgentRelay_ExecuteAndHistory(t *testing.T) {
	relay := New()
	require.NoError(t, relay.RegisterAgent(testutil.NewStubAgent("general", "hello there")))

	ctx := context.Background()
	content, sessionID, err := relay.Ask(ctx, "", "hi", "general")
	require.NoError(t, err)
	assert.Equal(t, "hello there", content)
	require.NotEmpty(t, sessionID)

	history, err := relay.History(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.SpeakerUser, history[0].Speaker)
	assert.Equal(t, "general", history[1].Speaker)

	sessions, err := relay.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].TurnCount)
}

func TestAgentRelay_RegisterAndAlias(t *testing.T) {
	relay := New()
	fn := agent.NewFuncAgent("people_lookup", "Finds people", func(_ *core.InvocationContext, msg string) (string, error) {
		return "found: " + msg, nil
	})
	require.NoError(t, relay.RegisterAgent(fn))
	require.NoError(t, relay.Alias("people", "people_lookup"))

	res, err := relay.Execute(context.Background(), core.Request{Message: "Ann", Agents: []string{"People"}})
	require.NoError(t, err)
	assert.Equal(t, "found: Ann", res.Content)
	assert.Equal(t, []string{"people_lookup"}, res.ParticipatingAgents)

	require.Len(t, relay.Agents(), 1)
	assert.Len(t, relay.Templates(), 4)
}

func TestAgentRelay_DeleteSessionClearsMemory(t *testing.T) {
	relay := New()
	require.NoError(t, relay.RegisterAgent(testutil.NewStubAgent("general", "ok")))
	ctx := context.Background()

	res, err := relay.Execute(ctx, core.Request{Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, relay.Remember(ctx, res.SessionID, "team", "platform"))
	assert.Error(t, relay.Remember(ctx, "", "team", "platform"))

	require.NoError(t, relay.DeleteSession(ctx, res.SessionID))

	_, err = relay.History(ctx, res.SessionID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	facts, err := relay.Engine().Memory().Get(res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, facts)
}
