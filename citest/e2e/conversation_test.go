package e2e_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/toolgate/citest/testutil"
	"github.com/opencode-ai/toolgate/internal/permission"
	"github.com/opencode-ai/toolgate/pkg/types"
)

func toolContents(messages []types.Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == types.RoleTool {
			out = append(out, m.Content)
		}
	}
	return out
}

var _ = Describe("Conversation", func() {
	var client *testutil.SSEClient

	BeforeEach(func() {
		client = testutil.NewSSEClient(testServer.BaseURL)
		testServer.MockLLM.Reset()
	})

	Describe("direct answer", func() {
		It("should stream the answer and finish", func() {
			result, err := client.Query(ctx, "e2e-direct", "What is 2+2?", testutil.Deny)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.SessionID).To(Equal("e2e-direct"))
			Expect(result.Roles()).To(Equal([]types.EventRole{types.EventAssistant, types.EventDone}))
			Expect(result.Contents(types.EventAssistant)).To(Equal([]string{"2 + 2 is 4."}))
		})

		It("should offer the calculator tools to the backend", func() {
			_, err := client.Query(ctx, "e2e-catalog", "hello", nil)
			Expect(err).NotTo(HaveOccurred())

			requests := testServer.MockLLM.Requests()
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Tools).To(ConsistOf("sum", "multiply", "divide"))
			Expect(requests[0].Messages[0].Role).To(Equal("system"))
			Expect(requests[0].Messages[0].Content).To(HavePrefix("Session ID: e2e-catalog\n\n"))
		})

		It("should generate a session ID when none is given", func() {
			result, err := client.Query(ctx, "", "hello", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SessionID).To(HavePrefix("session_"))

			snap, err := client.Session(ctx, result.SessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Messages).To(HaveLen(3))
		})

		It("should keep the conversation across queries", func() {
			_, err := client.Query(ctx, "e2e-multi", "hello", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Query(ctx, "e2e-multi", "What is 2+2?", nil)
			Expect(err).NotTo(HaveOccurred())

			requests := testServer.MockLLM.Requests()
			Expect(requests).To(HaveLen(2))
			// system, user, assistant, user
			Expect(requests[1].Messages).To(HaveLen(4))
		})
	})

	Describe("tool permission", func() {
		It("should run the tool when granted", func() {
			result, err := client.Query(ctx, "e2e-grant", "Please add these numbers", testutil.Grant)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Roles()).To(Equal([]types.EventRole{
				types.EventAssistant,
				types.EventPermission,
				types.EventToolExecuting,
				types.EventTool,
				types.EventAssistant,
				types.EventDone,
			}))
			Expect(result.Contents(types.EventPermission)).To(Equal([]string{"Do you want to allow execution of tool: sum?"}))
			Expect(result.Contents(types.EventTool)).To(Equal([]string{"Tool 'sum' result: 10"}))
			Expect(result.Contents(types.EventAssistant)).To(ContainElement("The result is 10."))

			snap, err := client.Session(ctx, "e2e-grant")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.WaitingForPermission).To(BeFalse())
			Expect(toolContents(snap.Messages)).To(Equal([]string{"10"}))
		})

		It("should not run the tool when denied", func() {
			result, err := client.Query(ctx, "e2e-deny", "multiply 6 by 7", testutil.Deny)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Roles()).NotTo(ContainElement(types.EventToolExecuting))
			Expect(result.Contents(types.EventAssistant)).To(ContainElements(
				permission.DeniedAcknowledgement,
				mockConfig.Defaults.AfterAssistant,
			))
			Expect(result.Roles()[len(result.Roles())-1]).To(Equal(types.EventDone))

			snap, err := client.Session(ctx, "e2e-deny")
			Expect(err).NotTo(HaveOccurred())
			Expect(toolContents(snap.Messages)).To(Equal([]string{permission.DeniedResult("multiply")}))
		})

		It("should report tool failures and continue", func() {
			result, err := client.Query(ctx, "e2e-fail", "divide by zero please", testutil.Grant)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Contents(types.EventTool)).To(Equal([]string{"Tool 'divide' failed: division by zero"}))
			Expect(result.Roles()[len(result.Roles())-1]).To(Equal(types.EventDone))

			snap, err := client.Session(ctx, "e2e-fail")
			Expect(err).NotTo(HaveOccurred())
			Expect(toolContents(snap.Messages)).To(Equal([]string{"Error: division by zero"}))
		})

		It("should keep the request pending when the client disconnects", func() {
			result, err := client.Query(ctx, "e2e-hold", "multiply 6 by 7", testutil.Hold)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Roles()).To(Equal([]types.EventRole{types.EventPermission}))

			Eventually(func() bool {
				snap, err := client.Session(ctx, "e2e-hold")
				return err == nil && !snap.Streaming
			}, 3*time.Second, 50*time.Millisecond).Should(BeTrue())

			snap, err := client.Session(ctx, "e2e-hold")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.WaitingForPermission).To(BeTrue())
			Expect(snap.PendingTools).To(Equal([]string{"multiply"}))

			// A new query drops the unanswered request.
			_, err = client.Query(ctx, "e2e-hold", "What is 2+2?", nil)
			Expect(err).NotTo(HaveOccurred())

			snap, err = client.Session(ctx, "e2e-hold")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.WaitingForPermission).To(BeFalse())
			Expect(toolContents(snap.Messages)).To(Equal([]string{permission.SupersededResult("multiply")}))
		})

		It("should push injected messages while waiting", func() {
			var injected *testutil.InjectResult
			decide := func(types.StreamEvent) *bool {
				var err error
				injected, err = client.Inject(ctx, "e2e-inject", "Waiting for your answer.")
				Expect(err).NotTo(HaveOccurred())
				return testutil.Grant(types.StreamEvent{})
			}

			result, err := client.Query(ctx, "e2e-inject", "Please add these numbers", decide)
			Expect(err).NotTo(HaveOccurred())

			Expect(injected.Injected).To(BeTrue())
			Expect(injected.Pushed).To(BeTrue())
			Expect(result.Contents(types.EventAssistant)).To(ContainElement("Waiting for your answer."))
			Expect(result.Contents(types.EventTool)).To(Equal([]string{"Tool 'sum' result: 10"}))
		})

		It("should reject injection into an unknown session", func() {
			_, err := client.Inject(ctx, "e2e-nobody", "hi")
			var statusErr *testutil.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("clear session", func() {
		It("should forget the history", func() {
			_, err := client.Query(ctx, "e2e-clear", "hello", nil)
			Expect(err).NotTo(HaveOccurred())

			existed, err := client.Clear(ctx, "e2e-clear")
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeTrue())

			_, err = client.Session(ctx, "e2e-clear")
			var statusErr *testutil.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.Code).To(Equal(http.StatusNotFound))

			existed, err = client.Clear(ctx, "e2e-clear")
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
		})
	})

	Describe("metrics", func() {
		It("should count turns and permission decisions", func() {
			_, err := client.Query(ctx, "e2e-metrics", "Please add these numbers", testutil.Grant)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() string {
				resp, err := http.Get(testServer.BaseURL + "/metrics")
				if err != nil {
					return ""
				}
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				return string(body)
			}, 2*time.Second, 50*time.Millisecond).Should(And(
				ContainSubstring(`toolgate_permission_decisions_total{decision="granted"}`),
				ContainSubstring(`toolgate_turns_total{outcome="answered"}`),
			))
		})
	})
})

var _ = Describe("Streaming chunks", func() {
	var server *testutil.TestServer

	BeforeEach(func() {
		var err error
		server, err = testutil.StartTestServer(testutil.WithMockConfig(mockConfig), testutil.WithStreamChunks())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Stop()
	})

	It("should forward partial text before the full message", func() {
		result, err := server.Client().Query(ctx, "e2e-chunks", "What is 2+2?", nil)
		Expect(err).NotTo(HaveOccurred())

		chunks := result.Contents(types.EventAssistantChunk)
		Expect(chunks).NotTo(BeEmpty())
		Expect(strings.Join(chunks, "")).To(Equal("2 + 2 is 4."))
		Expect(result.Contents(types.EventAssistant)).To(Equal([]string{"2 + 2 is 4."}))

		roles := result.Roles()
		Expect(roles[len(roles)-2:]).To(Equal([]types.EventRole{types.EventAssistant, types.EventDone}))
		Expect(server.MockLLM.Requests()[0].Stream).To(BeTrue())
	})

	It("should stream tool calls through the permission flow", func() {
		result, err := server.Client().Query(ctx, "e2e-chunk-tools", "Please add these numbers", testutil.Grant)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Contents(types.EventTool)).To(Equal([]string{"Tool 'sum' result: 10"}))
		Expect(result.Contents(types.EventAssistant)).To(ContainElement("The result is 10."))
	})
})
