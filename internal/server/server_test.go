package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/mcp"
	"github.com/opencode-ai/toolgate/internal/metrics"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/internal/server"
	"github.com/opencode-ai/toolgate/internal/session"
	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/mcpserver/calculator"
	"github.com/opencode-ai/toolgate/pkg/types"
)

var _ = Describe("HTTP surface", func() {
	var (
		backend  *queueBackend
		bus      *event.Bus
		registry *mcp.Registry
		proc     *session.Processor
		ts       *httptest.Server
	)

	BeforeEach(func() {
		registry = mcp.NewRegistry(mcp.WithBuiltins(map[string]mcp.BuiltinFactory{
			calculator.Name: calculator.NewServer,
		}))
		Expect(registry.ConnectAll(context.Background(), []types.ProviderConfig{
			{Name: "calculator", Type: types.ProviderBuiltin},
		})).To(Succeed())
		DeferCleanup(registry.Close)

		bus = event.NewBus()
		DeferCleanup(bus.Close)
		m := metrics.New(prometheus.NewRegistry())
		DeferCleanup(m.Attach(bus))

		backend = &queueBackend{}
		proc = session.NewProcessor(session.NewStore("", bus), backend, registry, bus, session.Config{})

		cfg := server.DefaultConfig()
		cfg.KeepAlive = time.Minute
		srv := server.New(cfg, proc, registry, bus, m.Handler())
		ts = httptest.NewServer(srv.Router())
		DeferCleanup(ts.Close)
	})

	postJSON := func(path string, body any) (*http.Response, map[string]any) {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return resp, out
	}

	getJSON := func(path string, out any) *http.Response {
		resp, err := http.Get(ts.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
		return resp
	}

	Describe("GET /stream-sse", func() {
		It("requires a query", func() {
			var body server.ErrorResponse
			resp := getJSON("/stream-sse?session_id=s1", &body)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body.Error.Code).To(Equal(server.ErrCodeInvalidRequest))
		})

		It("streams a direct answer and ends", func() {
			backend.responses = []*provider.Response{{Text: "2 + 2 is 4."}}

			resp, err := http.Get(ts.URL + "/stream-sse?q=what+is+2%2B2&session_id=s1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("X-Session-ID")).To(Equal("s1"))

			var events []types.StreamEvent
			Expect(stream.Decode(resp.Body, func(e types.StreamEvent) error {
				events = append(events, e)
				return nil
			})).To(Succeed())

			Expect(events).To(Equal([]types.StreamEvent{
				{Role: types.EventAssistant, Content: "2 + 2 is 4."},
				{Role: types.EventDone, Content: ""},
			}))
		})

		It("generates a session key when none is given", func() {
			resp, err := http.Get(ts.URL + "/stream-sse?q=hello")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			key := resp.Header.Get("X-Session-ID")
			Expect(key).To(HavePrefix("session_"))

			var cookie *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == "session_id" {
					cookie = c
				}
			}
			Expect(cookie).NotTo(BeNil())
			Expect(cookie.Value).To(Equal(key))
		})

		It("pauses for permission and resumes on the same stream", func() {
			backend.responses = []*provider.Response{
				{ToolCalls: []types.ToolCallRequest{{ID: "c1", Name: "sum", Arguments: `{"numbers":[2,2]}`}}},
				{Text: "The sum is 4."},
			}

			resp, err := http.Get(ts.URL + "/stream-sse?q=add+2+and+2&session_id=perm")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var events []types.StreamEvent
			var ack map[string]any
			err = stream.Decode(resp.Body, func(e types.StreamEvent) error {
				events = append(events, e)
				if e.Role == types.EventPermission {
					_, ack = postJSON("/tool-permission", map[string]any{"sessionId": "perm", "granted": true})
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(ack).To(HaveKeyWithValue("success", true))
			Expect(ack).To(HaveKeyWithValue("resumed", true))

			var roles []types.EventRole
			for _, e := range events {
				roles = append(roles, e.Role)
			}
			Expect(roles).To(Equal([]types.EventRole{
				types.EventPermission,
				types.EventToolExecuting,
				types.EventTool,
				types.EventAssistant,
				types.EventDone,
			}))
			Expect(events[0].Content).To(Equal("Do you want to allow execution of tool: sum?"))
			Expect(events[2].Content).To(Equal("Tool 'sum' result: 4"))
			Expect(events[3].Content).To(Equal("The sum is 4."))
		})

		It("keeps the session when the client disconnects while waiting", func() {
			backend.responses = []*provider.Response{
				{ToolCalls: []types.ToolCallRequest{{ID: "c1", Name: "sum", Arguments: `{"numbers":[1]}`}}},
			}

			ctx, cancel := context.WithCancel(context.Background())
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream-sse?q=go&session_id=gone", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())

			_ = stream.Decode(resp.Body, func(e types.StreamEvent) error {
				if e.Role == types.EventPermission {
					return stream.ErrStop
				}
				return nil
			})
			cancel()
			resp.Body.Close()

			Eventually(func() bool {
				_, ok := proc.Store().Stream("gone")
				return ok
			}).WithTimeout(2 * time.Second).Should(BeFalse())

			snap, ok := proc.Store().Snapshot("gone")
			Expect(ok).To(BeTrue())
			Expect(snap.WaitingForPermission).To(BeTrue())

			_, ack := postJSON("/tool-permission", map[string]any{"sessionId": "gone", "granted": true})
			Expect(ack).To(HaveKeyWithValue("resumed", false))
		})
	})

	Describe("stream binding", func() {
		askForSum := func() {
			backend.responses = []*provider.Response{
				{ToolCalls: []types.ToolCallRequest{{ID: "c1", Name: "sum", Arguments: `{"numbers":[1]}`}}},
			}
		}

		readUntilPermission := func(resp *http.Response) {
			_ = stream.Decode(resp.Body, func(e types.StreamEvent) error {
				if e.Role == types.EventPermission {
					return stream.ErrStop
				}
				return nil
			})
		}

		It("unbinds a stream whose keep-alive write fails", func() {
			askForSum()
			cfg := server.DefaultConfig()
			cfg.KeepAlive = 10 * time.Millisecond
			fast := httptest.NewServer(server.New(cfg, proc, registry, nil, nil).Router())
			DeferCleanup(fast.Close)

			resp, err := http.Get(fast.URL + "/stream-sse?q=go&session_id=dropped")
			Expect(err).NotTo(HaveOccurred())
			readUntilPermission(resp)
			resp.Body.Close()

			Eventually(func() bool {
				_, ok := proc.Store().Stream("dropped")
				return ok
			}).WithTimeout(2 * time.Second).Should(BeFalse())

			_, ack := postJSON("/tool-permission", map[string]any{"sessionId": "dropped", "granted": true})
			Expect(ack).To(HaveKeyWithValue("resumed", false))

			Consistently(func() bool {
				snap, _ := proc.Store().Snapshot("dropped")
				return snap.WaitingForPermission
			}, 100*time.Millisecond).Should(BeTrue())
		})

		It("closes waiting streams on shutdown and keeps the session", func() {
			askForSum()
			srv := server.New(server.DefaultConfig(), proc, registry, bus, nil)
			local := httptest.NewServer(srv.Router())
			DeferCleanup(local.Close)

			resp, err := http.Get(local.URL + "/stream-sse?q=go&session_id=parked")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			readUntilPermission(resp)

			ended := make(chan error, 1)
			go func() {
				_, err := io.Copy(io.Discard, resp.Body)
				ended <- err
			}()
			Consistently(ended, 50*time.Millisecond).ShouldNot(Receive())

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(ended).WithTimeout(2 * time.Second).Should(Receive(BeNil()))

			snap, ok := proc.Store().Snapshot("parked")
			Expect(ok).To(BeTrue())
			Expect(snap.WaitingForPermission).To(BeTrue())
			Expect(snap.Streaming).To(BeFalse())
		})
	})

	Describe("GET /api/events", func() {
		It("relays lifecycle events for the requested session only", func() {
			resp, err := http.Get(ts.URL + "/api/events?session_id=watched")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			var (
				mu   sync.Mutex
				seen []string
			)
			go func() {
				scanner := bufio.NewScanner(resp.Body)
				for scanner.Scan() {
					data, ok := strings.CutPrefix(scanner.Text(), "data: ")
					if !ok {
						continue
					}
					var e struct {
						Type string `json:"type"`
						Data struct {
							SessionID string `json:"sessionID"`
						} `json:"data"`
					}
					if json.Unmarshal([]byte(data), &e) == nil {
						mu.Lock()
						seen = append(seen, e.Type+"@"+e.Data.SessionID)
						mu.Unlock()
					}
				}
			}()
			events := func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), seen...)
			}

			for _, key := range []string{"other", "watched"} {
				r, err := http.Get(ts.URL + "/stream-sse?q=hello&session_id=" + key)
				Expect(err).NotTo(HaveOccurred())
				_, _ = io.Copy(io.Discard, r.Body)
				r.Body.Close()
			}

			Eventually(events).WithTimeout(2 * time.Second).Should(ContainElements(
				"session.created@watched",
				"turn.completed@watched",
			))
			Consistently(events, 100*time.Millisecond).ShouldNot(ContainElement(HaveSuffix("@other")))
		})

		It("is unavailable without an event bus", func() {
			bare := httptest.NewServer(server.New(nil, proc, registry, nil, nil).Router())
			DeferCleanup(bare.Close)

			resp, err := http.Get(bare.URL + "/api/events")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var body server.ErrorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(body.Error.Code).To(Equal(server.ErrCodeNotFound))
		})
	})

	Describe("POST /tool-permission", func() {
		It("requires a session id", func() {
			resp, body := postJSON("/tool-permission", map[string]any{"granted": true})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body).To(HaveKey("error"))
		})

		It("rejects a malformed body", func() {
			resp, err := http.Post(ts.URL+"/api/tool-permission", "application/json", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("acknowledges a decision for an idle session", func() {
			resp, body := postJSON("/tool-permission", map[string]any{"sessionId": "nobody", "granted": false})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("resumed", false))
		})
	})

	Describe("POST /api/inject-message", func() {
		It("validates the body", func() {
			resp, _ := postJSON("/api/inject-message", map[string]any{"session_id": "s1"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown session", func() {
			resp, _ := postJSON("/api/inject-message", map[string]any{"session_id": "ghost", "message": "hi"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("records the message when no client is attached", func() {
			proc.Store().GetOrCreate("s1")

			resp, body := postJSON("/api/inject-message", map[string]any{"session_id": "s1", "message": "reminder"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("injected", true))
			Expect(body).To(HaveKeyWithValue("pushed", false))

			snap, _ := proc.Store().Snapshot("s1")
			Expect(snap.Messages[len(snap.Messages)-1].Content).To(Equal("reminder"))
		})
	})

	Describe("/clear-session", func() {
		It("reports whether the session existed", func() {
			var body map[string]any
			getJSON("/clear-session?session_id=s1", &body)
			Expect(body).To(HaveKeyWithValue("existed", false))
			Expect(body).To(HaveKeyWithValue("message", "Session not found"))

			proc.Store().GetOrCreate("s1")
			resp, body := postJSON("/api/clear-session?session_id=s1", map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("existed", true))
			Expect(body).To(HaveKeyWithValue("message", "Session cleared"))
			Expect(proc.Store().Len()).To(BeZero())
		})

		It("uses the session cookie", func() {
			proc.Store().GetOrCreate("cookie-key")

			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/clear-session", nil)
			req.AddCookie(&http.Cookie{Name: "session_id", Value: "cookie-key"})
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var body map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("existed", true))
		})
	})

	Describe("read-only endpoints", func() {
		It("lists the tool catalog with owners", func() {
			var tools []mcp.Tool
			getJSON("/api/tools", &tools)

			names := map[string]string{}
			for _, t := range tools {
				names[t.Name] = t.ProviderID
			}
			Expect(names).To(HaveKeyWithValue("sum", "calculator"))
			Expect(names).To(HaveKeyWithValue("multiply", "calculator"))
			Expect(names).To(HaveKeyWithValue("divide", "calculator"))
		})

		It("lists provider status", func() {
			var providers []mcp.ProviderStatus
			getJSON("/api/providers", &providers)
			Expect(providers).To(HaveLen(1))
			Expect(providers[0].Name).To(Equal("calculator"))
			Expect(providers[0].Status).To(Equal(mcp.StatusConnected))
		})

		It("serves session snapshots", func() {
			var missing server.ErrorResponse
			resp := getJSON("/api/sessions/nope", &missing)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			proc.Store().AddUserMessage("s1", "hello")
			var snap session.Snapshot
			resp = getJSON("/api/sessions/s1", &snap)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(snap.ID).To(Equal("s1"))
			Expect(snap.Messages).To(HaveLen(2))

			var list []map[string]any
			getJSON("/api/sessions", &list)
			Expect(list).To(HaveLen(1))
		})

		It("reports health", func() {
			var body map[string]any
			resp := getJSON("/health", &body)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "ok"))
			Expect(body).To(HaveKeyWithValue("tools", BeNumerically("==", 3)))
		})

		It("exposes prometheus metrics", func() {
			proc.Store().GetOrCreate("s1")

			Eventually(func() string {
				resp, err := http.Get(ts.URL + "/metrics")
				if err != nil {
					return ""
				}
				defer resp.Body.Close()
				data, _ := io.ReadAll(resp.Body)
				return string(data)
			}).Should(ContainSubstring("active_sessions 1"))
		})
	})
})
