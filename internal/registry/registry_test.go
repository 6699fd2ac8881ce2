// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	r := Default()

	cases := []struct {
		path string
		app  string
		ok   bool
	}{
		{"/truai", "truai", true},
		{"/truai/login", "truai", true},
		{"/wiki/Special:Login", "wiki", true},
		{"/tracker/", "tracker", true},
		{"/truaix", "", false},
		{"/", "", false},
		{"/settings", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		app, ok := r.Match(tc.path)
		assert.Equal(t, tc.ok, ok, "path %q", tc.path)
		assert.Equal(t, tc.app, app, "path %q", tc.path)
	}
}

func TestMatchFirstEntryWins(t *testing.T) {
	r, err := New(
		Entry{Prefix: "/apps/chat", App: "chat"},
		Entry{Prefix: "/apps", App: "portal"},
	)
	require.NoError(t, err)

	app, ok := r.Match("/apps/chat/login")
	require.True(t, ok)
	assert.Equal(t, "chat", app)

	app, ok = r.Match("/apps/other")
	require.True(t, ok)
	assert.Equal(t, "portal", app)
}

func TestKnown(t *testing.T) {
	r := Default()
	assert.True(t, r.Known("truai"))
	assert.False(t, r.Known("unknownapp"))
	assert.False(t, r.Known(""))
	assert.Equal(t, []string{"truai", "wiki", "tracker"}, r.Apps())
}

func TestParseRejectsBadEntries(t *testing.T) {
	for _, pairs := range [][]string{
		{"truai"},
		{"truai=truai"},
		{"/truai="},
	} {
		_, err := Parse(pairs)
		assert.Error(t, err, "pairs %v", pairs)
	}
}
