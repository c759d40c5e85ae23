package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(title, content string) models.ScoredCandidate {
	return models.ScoredCandidate{Chunk: models.Chunk{
		Content:  content,
		Metadata: models.ChunkMetadata{SectionTitle: title},
	}}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]models.ScoredCandidate{
		cand("8.3 Access control", " Access is restricted. "),
		cand("", "Orphan text."),
	}, 0)
	assert.Equal(t, "[8.3 Access control]\nAccess is restricted.\n\n---\n[Unknown Section]\nOrphan text.\n", got)
}

func TestBuildContextStopsAtLimit(t *testing.T) {
	long := strings.Repeat("x", 40)
	got := BuildContext([]models.ScoredCandidate{
		cand("A", long),
		cand("B", long),
		cand("C", "short"),
	}, 60)
	assert.Equal(t, "[A]\n"+long+"\n", got)
	assert.LessOrEqual(t, len(got), 60)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("What is clause 8.3 about?", "[8.3 Access control]\nAccess is restricted.")
	assert.Contains(t, p, "Respond exactly with: \""+NotSpecified+"\"")
	assert.Contains(t, p, "Context:\n[8.3 Access control]\nAccess is restricted.")
	assert.True(t, strings.HasSuffix(p, "Question:\nWhat is clause 8.3 about?\n\nAnswer:\n"))
}

func TestSmallTalk(t *testing.T) {
	tests := []struct {
		query string
		small bool
		reply string
	}{
		{"Hi!", true, "How can I help you with the documents?"},
		{"good morning", true, "Good morning. How can I help you with the documents?"},
		{"Thank you so much", true, "You're welcome."},
		{"okay", true, "Alright."},
		{"I don’t understand", true, "No problem. Tell me what you want me to explain."},
		{"What is this standard about?", false, ""},
		{"Which controls cover supplier relationships and cloud services?", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.small, IsSmallTalk(tt.query))
			if tt.small {
				assert.Equal(t, tt.reply, SmallTalkResponse(tt.query))
			}
		})
	}
}

func TestFirstParagraph(t *testing.T) {
	assert.Equal(t, "First.", FirstParagraph("First.\n\nSecond."))
	assert.Equal(t, "Only one", FirstParagraph("Only one"))
}

func TestNewOllamaGeneratorValidates(t *testing.T) {
	_, err := NewOllamaGenerator(nil, "phi3", 0.1)
	assert.ErrorIs(t, err, ragerr.LLMInitialization)

	u, _ := url.Parse("http://localhost:1")
	_, err = NewOllamaGenerator(api.NewClient(u, http.DefaultClient), "", 0.1)
	assert.ErrorIs(t, err, ragerr.LLMInitialization)
}

func TestOllamaGeneratorComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "phi3", req.Model)
		assert.EqualValues(t, 64, req.Options["num_predict"])
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range []string{" Access", " is restricted.", ""} {
			fmt.Fprintf(w, "{\"model\":\"phi3\",\"response\":%q,\"done\":%t}\n", part, part == "")
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	g, err := NewOllamaGenerator(api.NewClient(u, srv.Client()), "phi3", 0.1)
	require.NoError(t, err)

	out, err := g.Complete(context.Background(), "prompt", 64)
	require.NoError(t, err)
	assert.Equal(t, "Access is restricted.", out)
}

func TestOllamaGeneratorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "{\"error\":\"model not found\"}\n")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	g, err := NewOllamaGenerator(api.NewClient(u, srv.Client()), "phi3", 0.1)
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), "prompt", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.LLMGeneration)
}

func TestOllamaGeneratorWarmup(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Prompt)
		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprint(w, "{\"error\":\"model not found\"}\n")
			return
		}
		fmt.Fprint(w, "{\"model\":\"phi3\",\"response\":\"\",\"done\":true}\n")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	g, err := NewOllamaGenerator(api.NewClient(u, srv.Client()), "phi3", 0.1)
	require.NoError(t, err)

	require.NoError(t, g.Warmup(context.Background()))

	status = http.StatusNotFound
	assert.ErrorIs(t, g.Warmup(context.Background()), ragerr.LLMInitialization)
}
