package openai

import (
	"testing"

	"github.com/hupe1980/agentrelay/model"
	"github.com/stretchr/testify/assert"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		Instructions: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "hi"},
			{Role: model.RoleAssistant, Text: "hello"},
			{Role: model.RoleUser, Text: "bye"},
		},
	})
	assert.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser)
}

func TestBuildParams_RequestOverrides(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test"; o.Model = "gpt-4o" })
	temp := 0.1
	params := m.buildParams(model.Request{Temperature: &temp, MaxTokens: 100, Messages: []model.Message{{Text: "x"}}})
	assert.Equal(t, "gpt-4o", params.Model)
	assert.Equal(t, 0.1, params.Temperature.Value)
	assert.Equal(t, int64(100), params.MaxCompletionTokens.Value)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test" })
	assert.Equal(t, "openai", m.Info().Provider)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, clientOptions(Options{}), 1)
	assert.Len(t, clientOptions(Options{APIKey: "k", BaseURL: "https://example.openai.azure.com/openai/v1"}), 3)
}
