package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})

	Version = "0.4.0"
	Commit = "f00dbabe1234"
	Date = "2026-10-01"

	info := Info()
	assert.Contains(t, info, "chaincraft 0.4.0")
	assert.Contains(t, info, "commit: f00dbab")
	assert.NotContains(t, info, "f00dbabe1234")
	assert.Contains(t, info, "2026-10-01")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "chaincraft/"+Version, UserAgent())
}

func TestShort(t *testing.T) {
	assert.Equal(t, "1234567", short("12345678"))
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "", short(""))
}
