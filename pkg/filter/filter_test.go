package filter

import (
	"testing"

	"github.com/cuemby/celixd/pkg/props"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrs(kv ...any) *props.Properties {
	p := props.New()
	for i := 0; i < len(kv); i += 2 {
		p.Set(kv[i].(string), kv[i+1])
	}
	return p
}

func TestSimpleEquality(t *testing.T) {
	f, err := Parse("(service.name=foo)")
	require.NoError(t, err)

	assert.True(t, f.Match(attrs("service.name", "foo")))
	assert.False(t, f.Match(attrs("service.name", "bar")))
	assert.False(t, f.Match(attrs("other.key", "foo")))
}

func TestPresence(t *testing.T) {
	f, err := Parse("(some.key=*)")
	require.NoError(t, err)

	assert.True(t, f.Match(attrs("some.key", "anything")))
	assert.False(t, f.Match(attrs("other.key", "anything")))
}

func TestSubstring(t *testing.T) {
	f, err := Parse("(name=fo*)")
	require.NoError(t, err)
	assert.True(t, f.Match(attrs("name", "foobar")))
	assert.False(t, f.Match(attrs("name", "barfoo")))

	f2, err := Parse("(name=*bar)")
	require.NoError(t, err)
	assert.True(t, f2.Match(attrs("name", "foobar")))
	assert.False(t, f2.Match(attrs("name", "barfoo")))
}

func TestNumericComparison(t *testing.T) {
	f, err := Parse("(service.ranking>=5)")
	require.NoError(t, err)

	assert.True(t, f.Match(attrs("service.ranking", int64(10))))
	assert.True(t, f.Match(attrs("service.ranking", int64(5))))
	assert.False(t, f.Match(attrs("service.ranking", int64(4))))
}

func TestVersionComparison(t *testing.T) {
	v, err := props.ParseVersion("2.0.0")
	require.NoError(t, err)

	f, err := Parse("(version>=1.5.0)")
	require.NoError(t, err)
	assert.True(t, f.Match(attrs("version", v)))
}

func TestCompoundAndOrNot(t *testing.T) {
	f, err := Parse("(&(service.name=foo)(service.ranking>=5))")
	require.NoError(t, err)
	assert.True(t, f.Match(attrs("service.name", "foo", "service.ranking", int64(10))))
	assert.False(t, f.Match(attrs("service.name", "foo", "service.ranking", int64(1))))

	orF, err := Parse("(|(service.name=foo)(service.name=bar))")
	require.NoError(t, err)
	assert.True(t, orF.Match(attrs("service.name", "bar")))
	assert.False(t, orF.Match(attrs("service.name", "baz")))

	notF, err := Parse("(!(service.name=foo))")
	require.NoError(t, err)
	assert.False(t, notF.Match(attrs("service.name", "foo")))
	assert.True(t, notF.Match(attrs("service.name", "bar")))
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f, err := Parse("")
	require.NoError(t, err)
	assert.True(t, f.Match(attrs()))
	assert.True(t, f.Match(attrs("k", "v")))
}

func TestParseRejectsMalformedInput(t *testing.T) {
	_, err := Parse("(service.name=foo")
	assert.Error(t, err)

	_, err = Parse("service.name=foo)")
	assert.Error(t, err)

	_, err = Parse("(&)")
	assert.Error(t, err)
}

func TestStringRoundTrips(t *testing.T) {
	f, err := Parse("(service.name=foo)")
	require.NoError(t, err)
	assert.Equal(t, "(service.name=foo)", f.String())
}
