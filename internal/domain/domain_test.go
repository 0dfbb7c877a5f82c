package domain_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/airactl/internal/domain"
)

// ---------------------------------------------------------------------------
// 1. RunStatus.ValidTransition: full 3x3 state-machine matrix.
// ---------------------------------------------------------------------------

func TestRunStatus_ValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from domain.RunStatus
		to   domain.RunStatus
		want bool
	}{
		// From running.
		{domain.RunStatusRunning, domain.RunStatusCompleted, true},
		{domain.RunStatusRunning, domain.RunStatusFailed, true},
		{domain.RunStatusRunning, domain.RunStatusRunning, false},

		// Terminal states never move.
		{domain.RunStatusCompleted, domain.RunStatusRunning, false},
		{domain.RunStatusCompleted, domain.RunStatusFailed, false},
		{domain.RunStatusCompleted, domain.RunStatusCompleted, false},
		{domain.RunStatusFailed, domain.RunStatusRunning, false},
		{domain.RunStatusFailed, domain.RunStatusCompleted, false},
		{domain.RunStatusFailed, domain.RunStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.from.ValidTransition(tt.to))
		})
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.RunStatusRunning.Terminal())
	assert.True(t, domain.RunStatusCompleted.Terminal())
	assert.True(t, domain.RunStatusFailed.Terminal())
}

// ---------------------------------------------------------------------------
// 2. Wire status mapping.
// ---------------------------------------------------------------------------

func TestRunStatusFromWire(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wire   string
		want   domain.RunStatus
		wantOK bool
	}{
		{wire: "running", want: domain.RunStatusRunning, wantOK: true},
		{wire: "started", want: domain.RunStatusRunning, wantOK: true},
		{wire: "done", want: domain.RunStatusCompleted, wantOK: true},
		{wire: "completed", want: domain.RunStatusCompleted, wantOK: true},
		{wire: "failed", want: domain.RunStatusFailed, wantOK: true},
		{wire: "error", want: domain.RunStatusFailed, wantOK: true},
		{wire: "queued", wantOK: false},
		{wire: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run("wire="+tt.wire, func(t *testing.T) {
			t.Parallel()

			got, ok := domain.RunStatusFromWire(tt.wire)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRunDetail_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, (&domain.RunDetail{Status: "done"}).Terminal())
	assert.True(t, (&domain.RunDetail{Status: "failed"}).Terminal())
	assert.False(t, (&domain.RunDetail{Status: "running"}).Terminal())
	assert.False(t, (&domain.RunDetail{Status: "queued"}).Terminal())
}

// ---------------------------------------------------------------------------
// 3. Fingerprints: deterministic, truncated, stable across processes.
// ---------------------------------------------------------------------------

func TestHashText(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, domain.HashText("hello"), domain.HashText("hello"))
	})

	t.Run("distinct inputs distinct digests", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t, domain.HashText("hello"), domain.HashText("world"))
	})

	t.Run("input beyond cap is ignored", func(t *testing.T) {
		t.Parallel()

		prefix := strings.Repeat("a", 512)
		assert.Equal(t, domain.HashText(prefix+"x"), domain.HashText(prefix+"y"))
		assert.NotEqual(t, domain.HashText(prefix[:511]+"x"), domain.HashText(prefix[:511]+"y"))
	})
}

func TestHashPayload(t *testing.T) {
	t.Parallel()

	t.Run("equal maps hash equal", func(t *testing.T) {
		t.Parallel()

		a := map[string]any{"a": 1, "b": "two"}
		b := map[string]any{"b": "two", "a": 1}
		assert.Equal(t, domain.HashPayload(a), domain.HashPayload(b))
	})

	t.Run("nil matches empty string", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, domain.HashText(""), domain.HashPayload(nil))
	})

	t.Run("different payloads differ", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t,
			domain.HashPayload(map[string]any{"a": 1}),
			domain.HashPayload(map[string]any{"a": 2}),
		)
	})
}

func TestActionID(t *testing.T) {
	t.Parallel()

	id := domain.ActionID("r1", "list", domain.ActionPhaseRequest, 0xdeadbeef)
	assert.Equal(t, "r1|list|request|deadbeef", id)
}

func TestParseActionPhase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.ActionPhaseRequest, domain.ParseActionPhase("request"))
	assert.Equal(t, domain.ActionPhaseResponse, domain.ParseActionPhase("response"))
	assert.Equal(t, domain.ActionPhaseResponse, domain.ParseActionPhase("resp"))
	assert.Equal(t, domain.ActionPhaseUnknown, domain.ParseActionPhase("whatever"))
	assert.Equal(t, domain.ActionPhaseUnknown, domain.ParseActionPhase(""))
}
