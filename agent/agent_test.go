package agent

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ core.Agent = (*ModelAgent)(nil)
	_ core.Agent = (*FuncAgent)(nil)
)

func TestBaseAgent_IdentityAndReadiness(t *testing.T) {
	b := NewBaseAgent("people")
	assert.Equal(t, "people", b.Name())
	assert.Equal(t, "Agent people", b.Description())
	assert.True(t, b.Ready())

	b.SetDescription("Finds colleagues")
	assert.Equal(t, core.AgentInfo{Name: "people", Description: "Finds colleagues"}, b.Describe())

	b.SetReady(false)
	assert.False(t, b.Ready())
	b.SetReady(true)
	assert.True(t, b.Ready())
}

func TestBaseAgent_ConcurrentAccess(t *testing.T) {
	b := NewBaseAgent("a")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.SetReady(i%2 == 0)
			_ = b.Describe()
			_ = b.Ready()
		}(i)
	}
	wg.Wait()
}

func TestFuncAgent(t *testing.T) {
	a := NewFuncAgent("upper", "Shouts back", func(ic *core.InvocationContext, message string) (string, error) {
		return strings.ToUpper(message) + " from " + ic.GetAgentName(), nil
	})
	assert.Equal(t, "Shouts back", a.Describe().Description)

	out, err := a.Respond(newTestInvocationContext(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "HI from TestAgent", out)

	failing := NewFuncAgent("broken", "", func(*core.InvocationContext, string) (string, error) {
		return "", errors.New("nope")
	})
	_, err = failing.Respond(newTestInvocationContext(), "hi")
	assert.EqualError(t, err, "nope")

	_, err = NewFuncAgent("empty", "", nil).Respond(newTestInvocationContext(), "hi")
	assert.Error(t, err)
}
