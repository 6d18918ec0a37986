package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentIsNeverBlank(t *testing.T) {
	b := Current()

	assert.NotEmpty(t, b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
	assert.Contains(t, b.String(), b.Version)
}

func TestWithVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "4f2a9c1"},
		{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
	}

	got := Build{Version: "dev"}.withVCS(settings)
	assert.Equal(t, Build{Version: "dev", Commit: "4f2a9c1", Date: "2026-03-01T10:00:00Z"}, got)

	pinned := Build{Version: "v1.2.0", Commit: "release", Date: "today"}.withVCS(settings)
	assert.Equal(t, "release", pinned.Commit)
	assert.Equal(t, "today", pinned.Date)
}

func TestFields(t *testing.T) {
	b := Current()
	fields := Fields()

	assert.Equal(t, b.Version, fields["version"])
	assert.Equal(t, b.Commit, fields["commit"])
	assert.Equal(t, b.Date, fields["built"])
}
