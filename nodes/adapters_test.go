package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow"
	"agentflow/kv"
)

func chatServer(t *testing.T, reply string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOpenAIClient(t *testing.T) {
	assert.Nil(t, NewOpenAIClient(LLMClientConfig{}))
	assert.NotNil(t, NewOpenAIClient(LLMClientConfig{APIKey: "k"}))
}

func TestLLMNode_CallsChatAPI(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := chatServer(t, "  Bonjour  ", &req)
	client := NewOpenAIClient(LLMClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})

	cfg := DefaultLLMNodeConfig("Translate to French.")
	cfg.InputKey = "text"
	cfg.OutputKey = "translation"
	node, err := NewLLMNode(client, cfg)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{"text": "Hello"}))
	require.NoError(t, err)

	got, _ := out.GetString("translation")
	assert.Equal(t, "Bonjour", got)
	raw, _ := out.GetString(LLMResponseKey)
	assert.Equal(t, "  Bonjour  ", raw)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "Translate to French.", req.Messages[0].Content)
	assert.Equal(t, "Hello", req.Messages[1].Content)
}

func TestLLMNode_MockWithoutClient(t *testing.T) {
	var typedNil *openai.Client
	for _, client := range []LLMClient{nil, typedNil} {
		node, err := NewLLMNode(client, LLMNodeConfig{})
		require.NoError(t, err)
		out, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{"input": "ping"}))
		require.NoError(t, err)
		got, _ := out.GetString("llm_output")
		assert.Equal(t, "mock response for ping", got)
	}
}

func TestLLMNode_PromptTemplateAndJSON(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := chatServer(t, "```json\n{\"answer\": \"Paris\", \"confidence\": 0.9}\n```", &req)
	client := NewOpenAIClient(LLMClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})

	node, err := NewLLMNode(client, LLMNodeConfig{
		Name:       "answer",
		Prompt:     "Context: {{.context}}\nQuestion: {{.question}}",
		OutputKey:  "answer",
		DecodeJSON: true,
	})
	require.NoError(t, err)

	out, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{
		"context":  "Paris is the capital of France.",
		"question": "Capital of France?",
	}))
	require.NoError(t, err)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "Context: Paris is the capital of France.\nQuestion: Capital of France?", req.Messages[1].Content)
	got, ok := out.GetMap("answer")
	require.True(t, ok)
	assert.Equal(t, agentflow.String("Paris"), got["answer"])
}

func TestNewLLMNode_BadTemplate(t *testing.T) {
	_, err := NewLLMNode(nil, LLMNodeConfig{Prompt: "{{.question"})
	assert.Error(t, err)
}

func TestMatchAction(t *testing.T) {
	actions := []string{"search", "answer", "ask"}
	tests := []struct {
		answer string
		want   string
		ok     bool
	}{
		{"answer", "answer", true},
		{"  Search. ", "search", true},
		{"I would answer, then search", "answer", true},
		{"ask", "ask", true},
		{"no idea", "", false},
	}
	for _, tt := range tests {
		got, ok := matchAction(tt.answer, actions)
		assert.Equal(t, tt.ok, ok, tt.answer)
		assert.Equal(t, tt.want, got, tt.answer)
	}
}

func TestLLMRouter(t *testing.T) {
	srv := chatServer(t, "I would SEARCH first.", nil)
	client := NewOpenAIClient(LLMClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	router := NewLLMRouter(client, LLMRouterConfig{Actions: []string{"answer", "search"}})

	out, err := router.Run(context.Background(), agentflow.MustStore(map[string]any{"input": "latest news"}))
	require.NoError(t, err)
	action, _ := agentflow.ActionOf(out)
	assert.Equal(t, "search", action)

	out, err = NewLLMRouter(nil, LLMRouterConfig{Actions: []string{"answer", "search"}}).Run(context.Background(), nil)
	require.NoError(t, err)
	action, _ = agentflow.ActionOf(out)
	assert.Equal(t, "answer", action)
}

func TestHTTPNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") == "missing" {
			w.WriteHeader(http.StatusNotFound)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"q":     r.URL.Query().Get("q"),
			"lang":  r.URL.Query().Get("lang"),
			"token": r.Header.Get("X-Token"),
			"body":  string(body),
		})
	}))
	defer srv.Close()

	cfg := DefaultHTTPNodeConfig("search")
	cfg.URL = srv.URL + "/search?q={{.query}}"
	cfg.Method = "post"
	cfg.Query = map[string]string{"lang": `{{default "en" .lang}}`}
	cfg.Headers = map[string]string{"X-Token": "{{.token}}"}
	cfg.Body = `{"query": {{json .query}}}`
	cfg.OutputKey = "context"
	node, err := NewHTTPNode(cfg)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{"query": "golang", "token": "t0k"}))
	require.NoError(t, err)
	resp, ok := out.GetMap("context")
	require.True(t, ok)
	assert.Equal(t, "golang", resp["q"].String())
	assert.Equal(t, "en", resp["lang"].String())
	assert.Equal(t, "t0k", resp["token"].String())
	assert.Equal(t, `{"query": "golang"}`, resp["body"].String())
	status, _ := out.GetNumber("search_status")
	assert.Equal(t, 200.0, status)

	cfg.FailOnStatus = true
	strict, err := NewHTTPNode(cfg)
	require.NoError(t, err)
	_, err = strict.Run(context.Background(), agentflow.MustStore(map[string]any{"query": "missing"}))
	var nodeErr *agentflow.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.ErrorContains(t, err, "returned 404")

	_, err = NewHTTPNode(HTTPNodeConfig{ID: "x"})
	assert.Error(t, err)
	_, err = NewHTTPNode(HTTPNodeConfig{ID: "x", URL: "http://h/{{.broken"})
	assert.Error(t, err)
}

func TestHTTPNode_BodyKeyAndMerge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": req["text"], "content_type": r.Header.Get("Content-Type")})
	}))
	defer srv.Close()

	cfg := DefaultHTTPNodeConfig("embed")
	cfg.URL = srv.URL
	cfg.Method = http.MethodPost
	cfg.BodyKey = "doc"
	cfg.OutputKey = ""
	node, err := NewHTTPNode(cfg)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{"doc": map[string]any{"text": "hi"}}))
	require.NoError(t, err)
	echo, _ := out.GetString("echo")
	assert.Equal(t, "hi", echo)
	ct, _ := out.GetString("content_type")
	assert.Equal(t, "application/json", ct)

	_, err = node.Run(context.Background(), agentflow.NewStore())
	assert.ErrorContains(t, err, `body key "doc" is missing`)
}

func TestShellNode(t *testing.T) {
	cfg := DefaultShellNodeConfig("echo")
	cfg.Command = "cat"
	cfg.OutputKey = ""
	cfg.DecodeJSON = true
	node, err := NewShellNode(cfg)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{"name": "tool"}))
	require.NoError(t, err)
	name, _ := out.GetString("name")
	assert.Equal(t, "tool", name)
	code, _ := out.GetNumber("echo_status")
	assert.Equal(t, 0.0, code)

	greet, err := NewShellNode(ShellNodeConfig{ID: "greet", Command: "echo", Args: []string{"hello", "{{.name}}"}, OutputKey: "said"})
	require.NoError(t, err)
	out, err = greet.Run(context.Background(), agentflow.MustStore(map[string]any{"name": "ada"}))
	require.NoError(t, err)
	said, _ := out.GetString("said")
	assert.Equal(t, "hello ada", said)

	failCfg := DefaultShellNodeConfig("fail")
	failCfg.Command = "false"
	failing, err := NewShellNode(failCfg)
	require.NoError(t, err)
	_, err = failing.Run(context.Background(), agentflow.NewStore())
	var nodeErr *agentflow.NodeError
	assert.ErrorAs(t, err, &nodeErr)

	failCfg.AllowFailure = true
	tolerant, err := NewShellNode(failCfg)
	require.NoError(t, err)
	out, err = tolerant.Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	code, _ = out.GetNumber("fail_status")
	assert.Equal(t, 1.0, code)
}

func TestKVNodes_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewInMemoryKVStore()

	write := NewKVWriteNode("save", backend, "profile", "user")
	_, err := write.Run(ctx, agentflow.MustStore(map[string]any{"user": map[string]any{"name": "ada", "age": 36}}))
	require.NoError(t, err)

	read := NewKVReadNode("load", backend, "profile", "loaded")
	out, err := read.Run(ctx, agentflow.NewStore())
	require.NoError(t, err)
	loaded, _ := out.Get("loaded")
	assert.True(t, loaded.Equal(agentflow.MustValue(map[string]any{"name": "ada", "age": 36})))

	_, err = write.Run(ctx, agentflow.NewStore())
	assert.Error(t, err)

	missing := NewKVReadNode("load", backend, "nope", "x")
	_, err = missing.Run(ctx, agentflow.NewStore())
	assert.ErrorIs(t, err, kv.ErrNotFound)
	missing.SetOptional(true)
	out, err = missing.Run(ctx, agentflow.NewStore())
	require.NoError(t, err)
	assert.False(t, out.Has("x"))
}

func TestKVNode_TemplatedKeyAndDelete(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewInMemoryKVStore()
	in := agentflow.MustStore(map[string]any{"user": "ada", "profile": "likes tea"})

	write, err := NewKVNode(backend, KVNodeConfig{ID: "save", Op: KVPut, Key: "profile/{{.user}}", Field: "profile"})
	require.NoError(t, err)
	_, err = write.Run(ctx, in)
	require.NoError(t, err)

	raw, err := backend.Get(ctx, "profile/ada")
	require.NoError(t, err)
	assert.JSONEq(t, `"likes tea"`, string(raw))

	del, err := NewKVNode(backend, KVNodeConfig{ID: "forget", Op: KVDelete, Key: "profile/{{.user}}"})
	require.NoError(t, err)
	_, err = del.Run(ctx, in)
	require.NoError(t, err)
	_, err = backend.Get(ctx, "profile/ada")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	_, err = NewKVNode(backend, KVNodeConfig{ID: "bad", Op: "scan", Key: "k"})
	assert.Error(t, err)
	_, err = NewKVNode(backend, KVNodeConfig{ID: "nokey", Op: KVGet})
	assert.Error(t, err)
	_, err = NewKVReadNode("detached", nil, "k", "k").Run(ctx, in)
	assert.Error(t, err)
}
