package props

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetPreservesInsertionOrder(t *testing.T) {
	p := New()
	p.Set("b", "2")
	p.Set("a", "1")
	p.Set("c", "3")

	assert.Equal(t, []string{"b", "a", "c"}, p.Keys())
}

func TestDuplicateSetReplacesWithoutMovingPosition(t *testing.T) {
	p := New()
	p.Set("a", "1")
	p.Set("b", "2")
	p.Set("a", "updated")

	assert.Equal(t, []string{"a", "b"}, p.Keys())
	v, ok := p.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", v)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := New()
	p.Set("key", "value")
	p.Set("spaced key", "a value with spaces")
	p.Set("escaped", `back\slash`)

	saved := p.Save()
	loaded, err := Load(saved)
	require.NoError(t, err)

	assert.Equal(t, p.Keys(), loaded.Keys())
	for _, k := range p.Keys() {
		want, _ := p.Get(k)
		got, _ := loaded.Get(k)
		assert.Equal(t, want, got)
	}
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	input := "# a comment\n\nkey=value\n"
	p, err := Load(input)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	v, _ := p.Get("key")
	assert.Equal(t, "value", v)
}

func TestCopyIsIndependent(t *testing.T) {
	p := New()
	p.Set("a", "1")
	cp := p.Copy()
	cp.Set("a", "2")

	v, _ := p.Get("a")
	assert.Equal(t, "1", v)
}

func TestVersionCompare(t *testing.T) {
	v1, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	v2, err := ParseVersion("1.3.0")
	require.NoError(t, err)

	assert.Equal(t, -1, v1.Compare(v2))
	assert.Equal(t, 1, v2.Compare(v1))
	assert.Equal(t, 0, v1.Compare(v1))
}
