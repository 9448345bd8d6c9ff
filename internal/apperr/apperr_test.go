package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_ClassifiesContextErrors(t *testing.T) {
	cancelled := Wrap(KindExtract, "extract", context.Canceled, "analyzer interrupted")
	assert.Equal(t, KindCancelled, cancelled.Kind)
	assert.False(t, cancelled.Timeout)

	deadline := Wrap(KindFetch, "fetch", fmt.Errorf("git: %w", context.DeadlineExceeded), "clone")
	assert.Equal(t, KindFetch, deadline.Kind)
	assert.True(t, deadline.Timeout)
	assert.True(t, IsTimeout(deadline))
	assert.Contains(t, deadline.Error(), "(timeout)")
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(KindStore, "put", "disk full")
	wrapped := fmt.Errorf("refresh demo@main: %w", base)

	assert.Equal(t, KindStore, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindStore))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindLLM, "generate", errors.New("connection refused"), "request failed")
	assert.Equal(t, "generate: request failed: connection refused", err.Error())
	assert.Equal(t, "not found", New(KindNotFound, "", "not found").Error())
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt([]byte("short"), 10))

	long := strings.Repeat("a", 20)
	got := Excerpt([]byte(long), 10)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(got, "(truncated)"))

	e := New(KindExtract, "extract", "bad json").WithOutput([]byte(strings.Repeat("x", ExcerptLimit+5)))
	assert.Equal(t, e.Output, OutputOf(fmt.Errorf("wrapped: %w", e)))
	assert.Len(t, e.Output, ExcerptLimit+len("...(truncated)"))
}
