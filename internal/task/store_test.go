package task

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id, title string, typ Type, status Status) *Task {
	return &Task{
		ID:     id,
		Title:  title,
		Type:   typ,
		Status: status,
		Source: SourceManual,
	}
}

func TestStore_SetGetReferenceSemantics(t *testing.T) {
	s := NewStore()
	tk := newTask("t1", "Craft pickaxe", TypeCrafting, StatusPending)
	s.Set(tk)

	got := s.Get("t1")
	require.NotNil(t, got)

	// Reads return the live object: mutations are visible without a re-set.
	got.Priority = 0.9
	assert.Equal(t, 0.9, s.Get("t1").Priority)
}

func TestStore_DeleteMissingReturnsFalse(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Delete("nope"))

	s.Set(newTask("t1", "x", TypeGeneral, StatusPending))
	assert.True(t, s.Delete("t1"))
	assert.False(t, s.Has("t1"))

	// Progress entry purged on delete
	_, ok := s.Progress("t1")
	assert.False(t, ok)
}

func TestStore_GetTasksFilter(t *testing.T) {
	s := NewStore()
	s.Set(newTask("t1", "a", TypeCrafting, StatusActive))
	s.Set(newTask("t2", "b", TypeCrafting, StatusPending))
	s.Set(newTask("t3", "c", TypeMining, StatusActive))

	assert.Len(t, s.GetTasks(Filter{Status: StatusActive}), 2)
	assert.Len(t, s.GetTasks(Filter{Type: TypeCrafting}), 2)
	assert.Len(t, s.GetTasks(Filter{Status: StatusActive, Type: TypeMining}), 1)
	assert.Len(t, s.GetTasks(Filter{Limit: 1}), 1)
}

func TestStore_HistoryRingTrims(t *testing.T) {
	s := NewStore()
	s.historyLimit = 5

	for i := 0; i < 8; i++ {
		tk := newTask(fmt.Sprintf("t%d", i), "x", TypeGeneral, StatusCompleted)
		s.Set(tk)
	}

	h := s.History()
	require.Len(t, h, 5)
	assert.Equal(t, "t3", h[0].TaskID)
	assert.Equal(t, "t7", h[4].TaskID)
}

func TestStore_DedupeKeyReservation(t *testing.T) {
	s := NewStore()

	assert.True(t, s.ReserveDedupeKey("ns:digest1"))
	assert.False(t, s.ReserveDedupeKey("ns:digest1"), "second reservation must fail")

	s.ReleaseDedupeKey("ns:digest1")
	assert.True(t, s.ReserveDedupeKey("ns:digest1"))
}

func TestStore_SterlingDedupeIndex(t *testing.T) {
	s := NewStore()
	tk := newTask("t1", "ir task", TypeSterlingIR, StatusPending)
	tk.Metadata.Sterling = &SterlingMeta{CommittedIRDigest: "abc123", DedupeNamespace: "ns"}
	s.Set(tk)

	found := s.FindByDedupeKey("ns:abc123")
	require.NotNil(t, found)
	assert.Equal(t, "t1", found.ID)

	// Index entry removed with the task
	s.Delete("t1")
	assert.Nil(t, s.FindByDedupeKey("ns:abc123"))
}

func TestFindSimilar(t *testing.T) {
	t.Run("sterling digest match", func(t *testing.T) {
		s := NewStore()
		existing := newTask("t1", "ir", TypeSterlingIR, StatusPending)
		existing.Metadata.Sterling = &SterlingMeta{CommittedIRDigest: "d1"}
		s.Set(existing)

		partial := newTask("", "other title", TypeSterlingIR, StatusPending)
		partial.Metadata.Sterling = &SterlingMeta{CommittedIRDigest: "d1"}
		assert.Equal(t, "t1", s.FindSimilar(partial).ID)

		// Different namespace does not collide
		other := newTask("", "x", TypeSterlingIR, StatusPending)
		other.Metadata.Sterling = &SterlingMeta{CommittedIRDigest: "d1", DedupeNamespace: "other"}
		assert.Nil(t, s.FindSimilar(other))
	})

	t.Run("case-insensitive title and status", func(t *testing.T) {
		s := NewStore()
		s.Set(newTask("t1", "Craft Wooden Pickaxe", TypeCrafting, StatusPending))

		partial := newTask("", "craft wooden pickaxe", TypeCrafting, StatusPending)
		require.NotNil(t, s.FindSimilar(partial))

		// Different status is not a duplicate by rule 2 but still matches
		// rule 3 (same type+source, full word overlap)
		partial.Status = StatusActive
		assert.NotNil(t, s.FindSimilar(partial))
	})

	t.Run("word overlap threshold", func(t *testing.T) {
		s := NewStore()
		s.Set(newTask("t1", "mine iron ore deposit", TypeMining, StatusPending))

		near := newTask("", "mine iron ore", TypeMining, StatusPending)
		assert.NotNil(t, s.FindSimilar(near), "3/3 overlap vs smaller set")

		far := newTask("", "build stone house", TypeMining, StatusPending)
		assert.Nil(t, s.FindSimilar(far))
	})

	t.Run("terminal tasks are not dedup targets", func(t *testing.T) {
		s := NewStore()
		s.Set(newTask("t1", "gather wood", TypeGathering, StatusCompleted))

		partial := newTask("", "gather wood", TypeGathering, StatusCompleted)
		assert.Nil(t, s.FindSimilar(partial))
	})

	t.Run("equivalent requirement", func(t *testing.T) {
		s := NewStore()
		existing := newTask("t1", "a title", TypeGeneral, StatusPending)
		existing.Metadata.Requirement = map[string]any{"output": "oak_planks", "quantity": 4}
		s.Set(existing)

		partial := newTask("", "unrelated words entirely", TypeCrafting, StatusActive)
		partial.Metadata.Requirement = map[string]any{"output": "oak_planks", "quantity": 4}
		assert.NotNil(t, s.FindSimilar(partial))
	})
}

func TestTask_Eligible(t *testing.T) {
	now := time.Now()

	tk := newTask("t1", "x", TypeGeneral, StatusActive)
	assert.True(t, tk.Eligible(now))

	tk.Status = StatusPending
	assert.False(t, tk.Eligible(now), "pending is not in the eligibility allowlist")

	tk.Status = StatusInProgress
	assert.True(t, tk.Eligible(now))

	tk.Metadata.BlockedReason = "shadow_mode"
	assert.False(t, tk.Eligible(now))

	tk.Metadata.BlockedReason = ""
	tk.Metadata.NextEligibleAt = now.Add(time.Minute)
	assert.False(t, tk.Eligible(now), "backoff floor not yet passed")

	tk.Metadata.NextEligibleAt = now.Add(-time.Second)
	assert.True(t, tk.Eligible(now))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusUnplannable.IsTerminal(), "replans can return an unplannable task to service")
	assert.False(t, StatusPaused.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
}

func TestHold_Clone(t *testing.T) {
	h := &Hold{Reason: HoldManualPause, HeldAt: time.Now(), ResumeHints: []string{"a"}}
	c := h.Clone()
	c.ResumeHints[0] = "b"
	assert.Equal(t, "a", h.ResumeHints[0], "clone must not share hint slice")

	var nilHold *Hold
	assert.Nil(t, nilHold.Clone())
}

func TestStore_Stats(t *testing.T) {
	s := NewStore()
	s.Set(newTask("t1", "a", TypeCrafting, StatusActive))
	s.Set(newTask("t2", "b", TypeMining, StatusCompleted))

	st := s.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByStatus[StatusActive])
	assert.Equal(t, 1, st.ByType[TypeMining])
	assert.Equal(t, 1, st.HistoryLen)
}
