package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/airactl/internal/domain"
	"github.com/gosuda/airactl/internal/history"
	"github.com/gosuda/airactl/internal/store/localdb"
)

func memLedger() *history.Ledger {
	return history.NewLedger(nil)
}

// ---------------------------------------------------------------------------
// Turn creation and lookup
// ---------------------------------------------------------------------------

func TestCreateTurn(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("tmp", "hi", "p1")

	turn, ok := l.Turn("tmp")
	require.True(t, ok)
	assert.Equal(t, "hi", turn.UserText)
	assert.Equal(t, "p1", turn.ProjectID)
	assert.Equal(t, domain.TurnPhaseRunning, turn.Phase)

	turns := l.TurnsByProject("p1")
	require.Len(t, turns, 1)
	assert.Equal(t, "tmp", turns[0].ID)
}

func TestCreateTurn_ExistingIDIsNoOp(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("tmp", "first", "p1")
	l.CreateTurn("tmp", "second", "p1")

	turn, _ := l.Turn("tmp")
	assert.Equal(t, "first", turn.UserText)
	assert.Len(t, l.TurnsByProject("p1"), 1)
}

func TestTurnsByProject_DescendingRecency(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "one", "p1")
	l.CreateTurn("t2", "two", "p1")
	l.CreateTurn("other", "x", "p2")

	turns := l.TurnsByProject("p1")
	require.Len(t, turns, 2)
	assert.Equal(t, "t2", turns[0].ID, "latest turn first")
	assert.Equal(t, "t1", turns[1].ID)
}

// ---------------------------------------------------------------------------
// Identity promotion
// ---------------------------------------------------------------------------

func TestPromoteTurn(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("tmp", "hi", "p1")
	l.PromoteTurn("tmp", "real")

	// State moved under the new key, order head follows.
	turn, ok := l.Turn("real")
	require.True(t, ok)
	assert.Equal(t, "real", turn.ID)
	assert.Equal(t, "hi", turn.UserText)

	turns := l.TurnsByProject("p1")
	require.Len(t, turns, 1)
	assert.Equal(t, "real", turns[0].ID)

	// The provisional id still resolves transparently.
	viaTemp, ok := l.Turn("tmp")
	require.True(t, ok)
	assert.Equal(t, "real", viaTemp.ID)
}

func TestPromoteTurn_OperationsUnderOldID(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("tmp", "hi", "p1")
	l.PromoteTurn("tmp", "real")

	l.AppendAction("tmp", domain.Action{ID: "a1", Tool: "list", StartedAt: time.Now()})
	l.SetAgentTextOnce("tmp", "answer")
	l.FinalizeTurn("tmp", true)

	turn, _ := l.Turn("real")
	assert.Len(t, turn.Actions, 1)
	assert.Equal(t, "answer", turn.AgentText)
	assert.Equal(t, domain.TurnPhaseCompleted, turn.Phase)
}

func TestPromoteTurn_PreservesPosition(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "one", "p1")
	l.CreateTurn("tmp", "two", "p1")
	l.CreateTurn("t3", "three", "p1")

	l.PromoteTurn("tmp", "real")

	turns := l.TurnsByProject("p1")
	require.Len(t, turns, 3)
	assert.Equal(t, []string{"t3", "real", "t1"}, []string{turns[0].ID, turns[1].ID, turns[2].ID})
}

func TestPromoteTurn_AbsentIsNoOp(t *testing.T) {
	t.Parallel()

	l := memLedger()
	assert.NotPanics(t, func() { l.PromoteTurn("ghost", "real") })

	_, ok := l.Turn("real")
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

func TestAppendAction_SortedByStartAscending(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "hi", "p1")

	base := time.Now()
	l.AppendAction("t1", domain.Action{ID: "later", StartedAt: base.Add(time.Second)})
	l.AppendAction("t1", domain.Action{ID: "earlier", StartedAt: base})

	turn, _ := l.Turn("t1")
	require.Len(t, turn.Actions, 2)
	assert.Equal(t, "earlier", turn.Actions[0].ID)
	assert.Equal(t, "later", turn.Actions[1].ID)
}

func TestAppendAction_StableForTies(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "hi", "p1")

	ts := time.Now()
	l.AppendAction("t1", domain.Action{ID: "first", StartedAt: ts})
	l.AppendAction("t1", domain.Action{ID: "second", StartedAt: ts})

	turn, _ := l.Turn("t1")
	require.Len(t, turn.Actions, 2)
	assert.Equal(t, "first", turn.Actions[0].ID, "arrival order kept for equal timestamps")
}

func TestAppendAction_AbsentTurnIsNoOp(t *testing.T) {
	t.Parallel()

	l := memLedger()
	assert.NotPanics(t, func() {
		l.AppendAction("ghost", domain.Action{ID: "a1"})
	})
}

func TestPatchAction(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "hi", "p1")
	l.AppendAction("t1", domain.Action{ID: "a1", OK: false})

	ok := true
	l.PatchAction("t1", "a1", domain.ActionPatch{OK: &ok, Payload: map[string]any{"rows": 3}})

	turn, _ := l.Turn("t1")
	require.Len(t, turn.Actions, 1)
	assert.True(t, turn.Actions[0].OK)
	assert.Equal(t, map[string]any{"rows": 3}, turn.Actions[0].Payload)
}

func TestPatchAction_AbsentIsNoOp(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "hi", "p1")

	assert.NotPanics(t, func() {
		l.PatchAction("t1", "ghost", domain.ActionPatch{})
		l.PatchAction("ghost", "a1", domain.ActionPatch{})
	})
}

// ---------------------------------------------------------------------------
// Agent text idempotence
// ---------------------------------------------------------------------------

func TestSetAgentTextOnce(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "hi", "p1")

	l.SetAgentTextOnce("t1", "answer")
	first, _ := l.Turn("t1")

	l.SetAgentTextOnce("t1", "answer")
	second, _ := l.Turn("t1")

	assert.Equal(t, "answer", second.AgentText)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "identical redelivery must not touch the turn")
}

func TestSetAgentTextOnce_DifferentTextOverwrites(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("t1", "hi", "p1")

	l.SetAgentTextOnce("t1", "draft")
	l.SetAgentTextOnce("t1", "final")

	turn, _ := l.Turn("t1")
	assert.Equal(t, "final", turn.AgentText)
}

// ---------------------------------------------------------------------------
// Finalize
// ---------------------------------------------------------------------------

func TestFinalizeTurn(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("good", "hi", "p1")
	l.CreateTurn("bad", "hi", "p1")

	l.FinalizeTurn("good", true)
	l.FinalizeTurn("bad", false)
	l.FinalizeTurn("ghost", true)

	good, _ := l.Turn("good")
	bad, _ := l.Turn("bad")
	assert.Equal(t, domain.TurnPhaseCompleted, good.Phase)
	assert.Equal(t, domain.TurnPhaseFailed, bad.Phase)

	// Terminal phase is final.
	l.FinalizeTurn("good", false)
	good, _ = l.Turn("good")
	assert.Equal(t, domain.TurnPhaseCompleted, good.Phase)
}

// ---------------------------------------------------------------------------
// Clearing
// ---------------------------------------------------------------------------

func TestClearProjectTurns(t *testing.T) {
	t.Parallel()

	l := memLedger()
	l.CreateTurn("tmp", "hi", "p1")
	l.PromoteTurn("tmp", "real")
	l.CreateTurn("keep", "other", "p2")

	l.ClearProjectTurns("p1")

	assert.Empty(t, l.TurnsByProject("p1"))
	_, ok := l.Turn("real")
	assert.False(t, ok)
	_, ok = l.Turn("tmp")
	assert.False(t, ok, "aliases into the cleared project are dropped")

	require.Len(t, l.TurnsByProject("p2"), 1)
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func TestLedger_PersistAndRehydrate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "airactl.db")
	ctx := context.Background()

	db, err := localdb.Open(path)
	require.NoError(t, err)

	l := history.NewLedger(db)
	require.NoError(t, l.Load(ctx))

	l.CreateTurn("tmp", "hi", "p1")
	l.PromoteTurn("tmp", "real")
	l.AppendAction("real", domain.Action{ID: "a1", Tool: "list", StartedAt: time.Now()})
	l.SetAgentTextOnce("real", "answer")
	l.FinalizeTurn("real", true)
	require.NoError(t, db.Close())

	db2, err := localdb.Open(path)
	require.NoError(t, err)
	defer db2.Close()

	fresh := history.NewLedger(db2)

	// Before Load the ledger must render empty; rehydration is explicit.
	assert.Empty(t, fresh.TurnsByProject("p1"))

	require.NoError(t, fresh.Load(ctx))

	turn, ok := fresh.Turn("real")
	require.True(t, ok)
	assert.Equal(t, "hi", turn.UserText)
	assert.Equal(t, "answer", turn.AgentText)
	assert.Equal(t, domain.TurnPhaseCompleted, turn.Phase)
	require.Len(t, turn.Actions, 1)

	// The alias map survives too.
	viaTemp, ok := fresh.Turn("tmp")
	require.True(t, ok)
	assert.Equal(t, "real", viaTemp.ID)
}
