package provider_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/toolgate/citest/testutil"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/pkg/types"
)

var calculatorTool = types.ToolDefinition{
	Name:        "calculator",
	Description: "Evaluate an arithmetic expression",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`),
}

func mockScenarios(settings testutil.MockSettings) *testutil.MockLLMConfig {
	return &testutil.MockLLMConfig{
		Settings: settings,
		Defaults: testutil.MockDefaults{Fallback: "I understand your request."},
		Responses: []testutil.ResponseRule{{
			Name:     "hello",
			Match:    testutil.MatchConfig{Contains: "hello"},
			Response: "Hello! I'm a mocked model.",
		}},
		ToolRules: []testutil.ToolRule{{
			Name:  "calculate",
			Match: testutil.MatchConfig{Contains: "calculate"},
			Tool:  "calculator",
			ToolCall: testutil.ToolCallConfig{
				ID:        "call_calc_001",
				Arguments: map[string]any{"expression": "2+2"},
			},
			Response: "I'll calculate that for you.",
		}},
	}
}

func userTurn(text string) []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: "Session ID: test"},
		{Role: types.RoleUser, Content: text},
	}
}

var _ = Describe("ChatBackend with MockLLM", func() {
	var (
		ctx        context.Context
		mockServer *testutil.MockLLMServer
		settings   testutil.MockSettings
	)

	BeforeEach(func() {
		ctx = context.Background()
		settings = testutil.MockSettings{}
	})

	JustBeforeEach(func() {
		mockServer = testutil.NewMockLLMServer(mockScenarios(settings))
	})

	AfterEach(func() {
		if mockServer != nil {
			mockServer.Close()
		}
	})

	newBackend := func(name, model string) *provider.ChatBackend {
		b, err := provider.New(ctx, types.BackendConfig{
			Provider:  name,
			APIKey:    "mock-api-key",
			BaseURL:   mockServer.URL(),
			Model:     model,
			MaxTokens: 256,
		})
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	Describe("openai", func() {
		It("omits the tool list when the catalog is empty", func() {
			b := newBackend("openai", "mock-gpt-4")

			resp, err := b.Generate(ctx, userTurn("hello"), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(Equal("Hello! I'm a mocked model."))
			Expect(provider.HasToolCalls(resp)).To(BeFalse())

			Expect(mockServer.LastRequest()).NotTo(HaveKey("tools"))
		})

		It("sends the catalog and normalizes tool calls", func() {
			b := newBackend("openai", "mock-gpt-4")

			resp, err := b.Generate(ctx, userTurn("please calculate 2+2"), []types.ToolDefinition{calculatorTool})
			Expect(err).NotTo(HaveOccurred())

			Expect(mockServer.LastRequest()).To(HaveKey("tools"))
			calls := provider.ExtractToolCalls(resp)
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].ID).To(Equal("call_calc_001"))
			Expect(calls[0].Name).To(Equal("calculator"))
			Expect(calls[0].ParsedArguments()).To(HaveKeyWithValue("expression", "2+2"))
		})

		It("streams chunks into the same response", func() {
			b := newBackend("openai", "mock-gpt-4")

			var chunks []string
			resp, err := b.Stream(ctx, userTurn("hello"), nil, func(s string) {
				chunks = append(chunks, s)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(len(chunks)).To(BeNumerically(">", 1))
			Expect(strings.Join(chunks, "")).To(Equal(resp.Text))
			Expect(resp.Text).To(Equal("Hello! I'm a mocked model."))
		})

		Context("when streaming is unavailable", func() {
			BeforeEach(func() {
				settings.FailStreams = true
			})

			It("falls back to a whole response", func() {
				b := newBackend("openai", "mock-gpt-4")

				resp, err := b.Stream(ctx, userTurn("hello"), nil, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Text).To(Equal("Hello! I'm a mocked model."))
				Expect(mockServer.Requests()).To(HaveLen(2))
			})
		})
	})

	Describe("ark", func() {
		It("streams a response", func() {
			b := newBackend("ark", "mock-ark-endpoint-123")
			Expect(b.Name()).To(Equal("ark"))

			resp, err := b.Stream(ctx, userTurn("hello"), nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(ContainSubstring("Hello"))
		})
	})

	Describe("anthropic", func() {
		It("generates a response", func() {
			b := newBackend("anthropic", "")

			resp, err := b.Generate(ctx, userTurn("hello"), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(ContainSubstring("Hello"))
			Expect(mockServer.Requests()[0].Path).To(Equal("/v1/messages"))
		})

		It("streams a response", func() {
			b := newBackend("anthropic", "")

			resp, err := b.Stream(ctx, userTurn("hello"), nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(ContainSubstring("Hello"))
		})
	})
})

var _ = Describe("Backend initialization", func() {
	ctx := context.Background()

	It("rejects an unknown provider", func() {
		_, err := provider.New(ctx, types.BackendConfig{Provider: "nope", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unknown backend provider")))
	})

	It("requires an API key", func() {
		for _, name := range []string{"openai", "anthropic", "ark"} {
			_, err := provider.New(ctx, types.BackendConfig{Provider: name, Model: "m"})
			Expect(err).To(HaveOccurred(), name)
		}
	})

	It("requires an ark endpoint", func() {
		_, err := provider.New(ctx, types.BackendConfig{Provider: "ark", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("endpoint")))
	})

	It("defaults to openai", func() {
		b, err := provider.New(ctx, types.BackendConfig{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Name()).To(Equal("openai"))
	})
})

var _ = Describe("Live OpenAI backend", Label("live"), func() {
	It("answers a simple prompt", func() {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			Skip("OPENAI_API_KEY not set")
		}

		b, err := provider.New(context.Background(), types.BackendConfig{
			Provider:  "openai",
			APIKey:    apiKey,
			Model:     "gpt-4o-mini",
			MaxTokens: 50,
		})
		Expect(err).NotTo(HaveOccurred())

		resp, err := b.Generate(context.Background(), userTurn("Reply with the single word: pong"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.ToLower(resp.Text)).To(ContainSubstring("pong"))
	})
})
