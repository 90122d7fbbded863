package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_New_RequiresModelsAndKeys(t *testing.T) {
	_, err := New(nil, []string{"key"}, "")
	assert.Error(t, err)

	_, err = New([]string{"model-a"}, nil, "")
	assert.Error(t, err)
}

func TestPool_New_PreferredInsertedAtHead(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x"}, "model-z")
	require.NoError(t, err)

	assert.Equal(t, []string{"model-z", "model-a", "model-b"}, p.Models())

	cand, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, "model-z", cand.Model)
}

func TestPool_New_PreferredAlreadyListedKeepsOrder(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x"}, "model-b")
	require.NoError(t, err)

	assert.Equal(t, []string{"model-a", "model-b"}, p.Models())
}

func TestPool_Current_RotatesSlotsBeforeModels(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)

	cand, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, Candidate{Model: "model-a", Slot: 0, Key: "key-x"}, cand)

	p.MarkExhausted("model-a", 0)
	cand, err = p.Current()
	require.NoError(t, err)
	assert.Equal(t, Candidate{Model: "model-a", Slot: 1, Key: "key-y"}, cand)

	// Only once every credential is spent for the best model does the
	// search degrade to the next candidate.
	p.MarkExhausted("model-a", 1)
	cand, err = p.Current()
	require.NoError(t, err)
	assert.Equal(t, Candidate{Model: "model-b", Slot: 0, Key: "key-x"}, cand)
}

func TestPool_Current_StableWithoutMarks(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)

	first, err := p.Current()
	require.NoError(t, err)
	second, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPool_MarkExhausted_Idempotent(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x"}, "")
	require.NoError(t, err)

	p.MarkExhausted("model-a", 0)
	first := p.Exhausted()

	p.MarkExhausted("model-a", 0)
	second := p.Exhausted()

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.ExhaustedCount())
}

func TestPool_Advance(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x"}, "")
	require.NoError(t, err)

	cand, err := p.Advance()
	require.NoError(t, err)
	assert.Equal(t, "model-b", cand.Model)
	assert.Equal(t, []Pair{{Model: "model-a", Slot: 0}}, p.Exhausted())
}

func TestPool_Exhaustion(t *testing.T) {
	p, err := New([]string{"model-a"}, []string{"key-x"}, "")
	require.NoError(t, err)

	p.MarkExhausted("model-a", 0)

	_, err = p.Current()
	assert.True(t, errors.Is(err, ErrExhausted))

	_, err = p.Advance()
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestPool_ExhaustedOrdering(t *testing.T) {
	p, err := New([]string{"model-a", "model-b"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)

	p.MarkExhausted("model-b", 1)
	p.MarkExhausted("model-a", 1)
	p.MarkExhausted("model-b", 0)

	assert.Equal(t, []Pair{
		{Model: "model-a", Slot: 1},
		{Model: "model-b", Slot: 0},
		{Model: "model-b", Slot: 1},
	}, p.Exhausted())
}

func TestPool_Size(t *testing.T) {
	p, err := New([]string{"model-a", "model-b", "model-c"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)
	assert.Equal(t, 6, p.Size())
}
