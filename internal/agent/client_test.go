package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg:  ClientConfig{APIKey: "sk-ant-test123"},
		},
		{
			name:    "empty API key",
			cfg:     ClientConfig{},
			wantErr: true,
		},
		{
			name: "defaults applied",
			cfg:  ClientConfig{APIKey: "sk-ant-test123", BaseURL: "", Model: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultBaseURL, client.baseURL)
			assert.Equal(t, defaultModel, client.model)
		})
	}
}

// fakeAPI builds an httptest server returning canned responses per turn.
func fakeAPI(t *testing.T, turns []apiResponse) *httptest.Server {
	t.Helper()
	var call int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("x-api-key"))

		resp := turns[call]
		if call < len(turns)-1 {
			call++
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func textResponse(text, stopReason string, in, out int) apiResponse {
	var resp apiResponse
	resp.Content = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: text}}
	resp.StopReason = stopReason
	resp.Usage.InputTokens = in
	resp.Usage.OutputTokens = out
	return resp
}

func newTestClient(t *testing.T, serverURL string, maxTurns int) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		APIKey:    "sk-ant-test",
		BaseURL:   serverURL,
		MaxTurns:  maxTurns,
		RateLimit: 1000,
		Burst:     1000,
	})
	require.NoError(t, err)
	return client
}

func TestInvokeSingleTurn(t *testing.T) {
	server := fakeAPI(t, []apiResponse{textResponse("analysis done", "end_turn", 100, 50)})
	defer server.Close()

	client := newTestClient(t, server.URL, 5)
	out, err := client.Invoke(context.Background(), Request{
		Role:        RoleArchitecture,
		Instruction: "analyze",
	})

	require.NoError(t, err)
	assert.Equal(t, "analysis done", out.Text)
	assert.Equal(t, 1, out.Turns)
	assert.Equal(t, 150, out.Usage.Total())
}

func TestInvokeContinuesAcrossTurns(t *testing.T) {
	server := fakeAPI(t, []apiResponse{
		textResponse("part one ", "max_tokens", 100, 100),
		textResponse("part two", "end_turn", 50, 50),
	})
	defer server.Close()

	client := newTestClient(t, server.URL, 5)
	out, err := client.Invoke(context.Background(), Request{Role: RoleComponent, Instruction: "go"})

	require.NoError(t, err)
	assert.Equal(t, "part one part two", out.Text)
	assert.Equal(t, 2, out.Turns)
	assert.Equal(t, 300, out.Usage.Total())
}

func TestInvokeBudgetExceeded(t *testing.T) {
	// Model never finishes.
	server := fakeAPI(t, []apiResponse{textResponse("more ", "max_tokens", 10, 10)})
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Invoke(context.Background(), Request{Role: RoleComponent, Instruction: "go"})

	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureBudgetExceeded, f.Kind)
	// Usage consumed before the ceiling is preserved for cost accounting.
	assert.Equal(t, 60, f.Usage.Total())
}

func TestInvokeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		APIKey:      "sk-ant-test",
		BaseURL:     server.URL,
		TurnTimeout: 50 * time.Millisecond,
		RateLimit:   1000,
		Burst:       1000,
	})
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), Request{Role: RoleValidation, Instruction: "check"})
	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureTimeout, f.Kind)
}

func TestInvokeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Invoke(context.Background(), Request{Role: RoleComponent, Instruction: "go"})

	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, FailureCapability, f.Kind)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestRenderPromptIncludesContextFiles(t *testing.T) {
	prompt := renderPrompt(Request{
		Instruction: "analyze this",
		Context: []ContextFile{
			{Path: "main.go", Content: "package main"},
		},
	})
	assert.Contains(t, prompt, "analyze this")
	assert.Contains(t, prompt, `<file path="main.go">`)
	assert.Contains(t, prompt, "package main")
}
