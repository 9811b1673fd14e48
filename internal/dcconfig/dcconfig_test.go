package dcconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tags, err := Parse("<connstr>db://x</connstr><timeout>30</timeout><pname>miner1</pname>")
	require.NoError(t, err)

	v, ok := tags.Get("connstr")
	assert.True(t, ok)
	assert.Equal(t, "db://x", v)

	assert.Equal(t, "30", tags.GetDefault("timeout", "0"))
	assert.Equal(t, "60", tags.GetDefault("missing", "60"))
}

func TestParseRepeatedTag(t *testing.T) {
	tags, err := Parse("<fieldstr>a</fieldstr><fieldstr>b</fieldstr>")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags.All("fieldstr"))
}

func TestRequireMissing(t *testing.T) {
	tags, err := Parse("<a>1</a>")
	require.NoError(t, err)
	_, err = tags.Require("b")
	assert.Error(t, err)
}

func TestValidateCollectsAllMissing(t *testing.T) {
	tags, err := Parse("<a>1</a>")
	require.NoError(t, err)

	assert.NoError(t, tags.Validate("a"))

	err = tags.Validate("a", "b", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "c")
	assert.NotContains(t, err.Error(), "\"a\"")
}

func TestEncode(t *testing.T) {
	s := Encode([2]string{"filename", "x.xml"}, [2]string{"result", "success"})
	assert.Equal(t, "<filename>x.xml</filename><result>success</result>", s)
}
