package detect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func dummyInit(data any) (any, error)  { return data, nil }
func dummyFree(any)                    {}

func TestThreadKeywordRegistry_SingleModeAllocatesNewIDs(t *testing.T) {
	k := NewThreadKeywordRegistry()
	id1 := k.Register("kw-a", dummyInit, "x", dummyFree, KeywordModeSingle)
	id2 := k.Register("kw-a", dummyInit, "x", dummyFree, KeywordModeSingle)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, k.Count())
}

func TestThreadKeywordRegistry_SharedModeReusesID(t *testing.T) {
	k := NewThreadKeywordRegistry()
	id1 := k.Register("kw-b", dummyInit, "x", dummyFree, KeywordModeShared)
	id2 := k.Register("kw-b", dummyInit, "x", dummyFree, KeywordModeShared)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, k.Count())
}

func TestThreadKeywordRegistry_PanicsOnNilRequiredArgs(t *testing.T) {
	k := NewThreadKeywordRegistry()
	assert.Panics(t, func() { k.Register("kw-c", nil, "x", dummyFree, KeywordModeSingle) })
	assert.Panics(t, func() { k.Register("kw-c", dummyInit, nil, dummyFree, KeywordModeSingle) })
	assert.Panics(t, func() { k.Register("kw-c", dummyInit, "x", nil, KeywordModeSingle) })
}

func TestGet_OutOfRangeOrAbsent(t *testing.T) {
	assert.Nil(t, Get(nil, 0))
	ctx := &ThreadContext{}
	assert.Nil(t, Get(ctx, 0))
	assert.Nil(t, Get(ctx, -1))

	ctx.keywordSubCtx = []any{"a", "b"}
	assert.Equal(t, "a", Get(ctx, 0))
	assert.Equal(t, "b", Get(ctx, 1))
	assert.Nil(t, Get(ctx, 2))
}

func TestThreadKeywordRegistry_ItemsOrderedByID(t *testing.T) {
	k := NewThreadKeywordRegistry()
	k.Register("first", dummyInit, 1, dummyFree, KeywordModeSingle)
	k.Register("second", dummyInit, 2, dummyFree, KeywordModeSingle)

	items := k.items()
	assert.Len(t, items, 2)
	assert.Equal(t, "first", items[0].name)
	assert.Equal(t, "second", items[1].name)
}

func failingInit(any) (any, error) { return nil, errors.New("boom") }
