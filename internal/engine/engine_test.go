package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetSchema = `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`

func greetTool() Tool {
	return Tool{
		Name:       "greet",
		SchemaJSON: greetSchema,
		Category:   "test",
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			name := args["name"].(string)
			if name == "nobody" {
				return "", errors.New("nobody to greet")
			}
			return "hello " + name, nil
		},
	}
}

func TestValidateArgs(t *testing.T) {
	tool := greetTool()
	assert.NoError(t, tool.ValidateArgs(map[string]any{"name": "ada"}))

	err := tool.ValidateArgs(map[string]any{"name": 3})
	var verr *ToolValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "greet", verr.ToolName)
	assert.NotEmpty(t, verr.Errors)

	assert.NoError(t, Tool{Name: "free"}.ValidateArgs(map[string]any{"x": 1}))
}

func TestDecodeArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[string]any{}},
		{name: "null", raw: "null", want: map[string]any{}},
		{name: "object", raw: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{name: "array", raw: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArgs(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToolRun(t *testing.T) {
	tool := greetTool()
	ctx := context.Background()

	res := tool.Run(ctx, "u1", map[string]any{"name": "ada"})
	assert.False(t, res.IsError())
	assert.Equal(t, "u1", res.ToolUseID)
	assert.Equal(t, "hello ada", res.Text())

	res = tool.Run(ctx, "u2", map[string]any{})
	assert.True(t, res.IsError())
	assert.Contains(t, res.Text(), "Failed to validate tool parameters")

	res = tool.Run(ctx, "u3", map[string]any{"name": "nobody"})
	assert.True(t, res.IsError())
	assert.Equal(t, "nobody to greet", res.Text())
}

func TestToolRegistry(t *testing.T) {
	reg := ToolRegistry{
		"b": {Name: "b", Category: "x"},
		"a": {Name: "a", Category: "y"},
		"c": {Name: "c", Category: "x"},
	}
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
	assert.Equal(t, []string{"b", "c"}, reg.FilterByCategory("x").Names())
	assert.Empty(t, reg.FilterByCategory("z"))
}

func TestResultText(t *testing.T) {
	res := ToolResult{Content: []ContentBlock{{Text: "one"}, {JSON: json.RawMessage(`{"k":1}`)}}}
	assert.Equal(t, "one\n{\"k\":1}", res.Text())
}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		err  error
		want RetryClass
	}{
		{err: nil, want: RetryClassNonRetryable},
		{err: context.Canceled, want: RetryClassNonRetryable},
		{err: fmt.Errorf("dial: %w", context.DeadlineExceeded), want: RetryClassMaybe},
		{err: errors.New("HTTP 401 Unauthorized"), want: RetryClassNonRetryable},
		{err: errors.New("read: connection reset by peer"), want: RetryClassRetryable},
		{err: io.ErrUnexpectedEOF, want: RetryClassRetryable},
		{err: errors.New("503 service unavailable"), want: RetryClassRetryable},
		{err: errors.New("invalid params"), want: RetryClassNonRetryable},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTransportError(tt.err))
		})
	}
}

var fastPolicy = RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func TestRetryWithPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		var retries []int
		got, err := RetryWithPolicy(ctx, fastPolicy, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("connection refused")
			}
			return 42, nil
		}, ClassifyTransportError, func(attempt int, _ time.Duration, _ error) {
			retries = append(retries, attempt)
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, []int{1, 2}, retries)
	})

	t.Run("stops on permanent failure", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(ctx, fastPolicy, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("403 forbidden")
		}, ClassifyTransportError, nil)
		require.Error(t, err)
		assert.False(t, IsRetryExhausted(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(ctx, fastPolicy, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("connection reset")
		}, ClassifyTransportError, nil)
		require.True(t, IsRetryExhausted(err))
		assert.Equal(t, fastPolicy.MaxRetries+1, calls)
		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("maybe errors get one retry", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(ctx, fastPolicy, func(context.Context) (int, error) {
			calls++
			return 0, context.DeadlineExceeded
		}, ClassifyTransportError, nil)
		var exhausted *RetryExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.True(t, exhausted.IsGuarded)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		slow := RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		_, err := RetryWithPolicy(cctx, slow, func(context.Context) (int, error) {
			cancel()
			return 0, errors.New("connection refused")
		}, ClassifyTransportError, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(p, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(p, 1))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(p, 5))

	p.Jitter = true
	d := calculateDelay(p, 0)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.LessOrEqual(t, d, 120*time.Millisecond)
}
