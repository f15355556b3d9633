package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/phasegate/internal/plan"
)

func settings() plan.ReviewSettings {
	return plan.ReviewSettings{
		Model:             "test-model",
		MaxTokens:         100,
		IncludeExtensions: []string{".go", ".py"},
		ExcludePatterns:   []string{"tests/**"},
	}
}

func TestParseReview(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		approved bool
		issues   []string
	}{
		{"approved", "APPROVED - Code meets standards", true, nil},
		{"approved lowercase", "approved, nice work", true, nil},
		{"issues", "Some notes\n- Issue: nil deref in main\n  - Issue: missing test\n", false, []string{"nil deref in main", "missing test"}},
		{"free text", "Looks off to me", false, []string{"feedback: Looks off to me"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseReview(tt.text)
			assert.Equal(t, tt.approved, v.Approved)
			assert.Equal(t, tt.issues, v.Issues)
		})
	}
}

func TestSelect(t *testing.T) {
	var files []string
	for i := 0; i < 12; i++ {
		files = append(files, fmt.Sprintf("src/f%02d.go", i))
	}
	files = append(files, "tests/x.go", "README.md")

	got, truncated := Select(files, settings())
	assert.True(t, truncated)
	assert.Len(t, got, MaxFiles)
	assert.Equal(t, "src/f00.go", got[0])
	assert.NotContains(t, got, "tests/x.go")
	assert.NotContains(t, got, "README.md")
}

func TestBuildBundle(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "small.go"), []byte("package x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), []byte(strings.Repeat("a", MaxFileSize+1)), 0o644))

	got := BuildBundle(root, []string{"big.go", "gone.go", "small.go"})
	require.Len(t, got, 2)
	assert.True(t, got[0].Skipped)
	assert.Empty(t, got[0].Content)
	assert.Equal(t, "package x\n", got[1].Content)

	prompt := Prompt(Request{Description: "add x", Files: got})
	assert.Contains(t, prompt, "**Goal:** add x")
	assert.Contains(t, prompt, "[big.go: Skipped - 48KB exceeds limit]")
	assert.Contains(t, prompt, "File: small.go")
}

func TestAnthropicReviewer(t *testing.T) {
	var gotKey string
	var gotBody anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"- Issue: unchecked error"}]}`))
	}))
	defer srv.Close()

	r := &AnthropicReviewer{APIKey: "k", Endpoint: srv.URL, Client: srv.Client()}
	v, err := r.Review(context.Background(), Request{
		Description: "goal",
		Files:       []File{{Path: "a.go", Content: "package a"}},
		Settings:    settings(),
	})
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, []string{"unchecked error"}, v.Issues)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "test-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Contains(t, gotBody.Messages[0].Content, "File: a.go")
}

func TestAnthropicReviewer_Errors(t *testing.T) {
	req := Request{Files: []File{{Path: "a.go"}}, Settings: settings()}

	t.Run("missing key", func(t *testing.T) {
		_, err := (&AnthropicReviewer{}).Review(context.Background(), req)
		assert.ErrorIs(t, err, ErrCredentialMissing)
	})

	t.Run("server error is transport", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := (&AnthropicReviewer{APIKey: "k", Endpoint: srv.URL}).Review(context.Background(), req)
		var te *TransportError
		require.True(t, errors.As(err, &te), "err = %v", err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("unreachable is transport", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := (&AnthropicReviewer{APIKey: "k", Endpoint: url}).Review(context.Background(), req)
		var te *TransportError
		assert.True(t, errors.As(err, &te), "err = %v", err)
	})

	t.Run("empty bundle approves", func(t *testing.T) {
		v, err := (&AnthropicReviewer{APIKey: "k"}).Review(context.Background(), Request{})
		require.NoError(t, err)
		assert.True(t, v.Approved)
	})
}
