package stages

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadelabs/cascade/pkg/memory"
	"github.com/cascadelabs/cascade/pkg/stage"
)

func testRunContext() stage.RunContext {
	return stage.RunContext{Context: context.Background(), Logger: slog.Default()}
}

func TestSynthesize_PrefersRefinedOverTeacher(t *testing.T) {
	s := NewSynthesize(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("refine.final", "refined answer"))
	require.NoError(t, sp.Set("teacher.answer", "teacher answer"))

	out, err := s.Run(testRunContext(), sp)
	require.NoError(t, err)
	assert.Equal(t, "refined answer", out.Writes["final.answer"])
	assert.Equal(t, []string{"refine.final"}, out.Writes["final.provenance"])
}

func TestSynthesize_FallsBackToTeacherThenStudent(t *testing.T) {
	s := NewSynthesize(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("student.answer", "student answer"))

	out, err := s.Run(testRunContext(), sp)
	require.NoError(t, err)
	assert.Equal(t, "student answer", out.Writes["final.answer"])
}

func TestSynthesize_FallsBackToRetrievalSummary(t *testing.T) {
	s := NewSynthesize(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("retrieval.notes", []memory.Scored{
		{Note: memory.Note{ID: "n1", Text: "note one"}, Score: 0.9},
	}))

	out, err := s.Run(testRunContext(), sp)
	require.NoError(t, err)
	assert.Equal(t, "note one", out.Writes["final.answer"])
}

func TestSynthesize_DegradedTeacherFallsThroughToStudent(t *testing.T) {
	s := NewSynthesize(nil)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("teacher.answer", Degradation{Reason: "circuit open"}))
	require.NoError(t, sp.Set("student.answer", "student covers it"))

	out, err := s.Run(testRunContext(), sp)
	require.NoError(t, err)
	assert.Equal(t, "student covers it", out.Writes["final.answer"])
}

func TestSynthesize_DenyPatternDegradesToRetrievalSummary(t *testing.T) {
	deny := NewDenyFilter([]string{`(?i)forbidden-secret`})
	s := NewSynthesize(deny)
	sp := stage.NewScratchpad()
	require.NoError(t, sp.Set("teacher.answer", "here is the forbidden-secret value"))
	require.NoError(t, sp.Set("retrieval.notes", []memory.Scored{
		{Note: memory.Note{ID: "n1", Text: "safe summary"}, Score: 0.5},
	}))

	out, err := s.Run(testRunContext(), sp)
	require.NoError(t, err)
	assert.Equal(t, "safe summary", out.Writes["final.answer"])
}

func TestDenyFilter_InvalidPatternSkipped(t *testing.T) {
	f := NewDenyFilter([]string{"(unclosed", "valid"})
	_, hit := f.Matches("this has valid in it")
	assert.True(t, hit)
}
