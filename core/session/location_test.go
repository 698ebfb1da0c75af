package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{"alice/docs/main/guide.md", Location{"alice", "docs", "main", "guide.md"}},
		{"alice/docs/feature%2Fx/dir/a.md", Location{"alice", "docs", "feature/x", "dir/a.md"}},
		{"github://alice/docs/main/guide.md", Location{"alice", "docs", "main", "guide.md"}},
		{"/alice/docs/0a1b2c/guide.md", Location{"alice", "docs", "0a1b2c", "guide.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocation_Invalid(t *testing.T) {
	for _, in := range []string{"", "alice/docs/main", "alice//main/guide.md", "alice/docs/main/", "alice/docs/%zz/guide.md"} {
		_, err := ParseLocation(in)
		assert.Error(t, err, in)
	}
}

func TestLocation_StringEncodesBranch(t *testing.T) {
	loc := Location{Owner: "alice", Repo: "docs", Branch: "feature/x", Path: "dir/a.md"}
	assert.Equal(t, "alice/docs/feature%2Fx/dir/a.md", loc.String())

	back, err := ParseLocation(loc.String())
	require.NoError(t, err)
	assert.Equal(t, loc, back)
}

func TestAnnotate(t *testing.T) {
	assert.Equal(t, "fix typo", Annotate("fix typo", "", 0))
	assert.Equal(t, "@bob fix typo", Annotate("fix typo", "bob", 0))
	assert.Equal(t, "@bob fix typo", Annotate("fix typo", "@bob", 0))
	assert.Equal(t, "#12 fix typo", Annotate("fix typo", "", 12))
	assert.Equal(t, "@bob #12 fix typo", Annotate("fix typo", "bob", 12))
}
