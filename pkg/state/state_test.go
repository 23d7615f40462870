package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setTempHome points LAYERCTL_HOME at a temp directory for isolated testing.
func setTempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	return dir
}

func TestBaseDir_Default(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(HomeEnv, "")

	assert.Equal(t, filepath.Join(home, ".layerctl"), BaseDir())
	assert.Equal(t, filepath.Join(home, ".layerctl", "state"), StateDir())
	assert.Equal(t, filepath.Join(home, ".layerctl", "logs", "bot.log"), LogPath("bot"))
	assert.Equal(t, filepath.Join(home, ".layerctl", "src"), SourceDir())
}

func TestBaseDir_Override(t *testing.T) {
	dir := setTempHome(t)
	assert.Equal(t, dir, BaseDir())
	assert.Equal(t, filepath.Join(dir, "state", "bot.json"), StatePath("bot"))
	assert.Equal(t, filepath.Join(dir, "state", "bot.lock"), LockPath("bot"))
}

func TestLoad_NeverBuilt(t *testing.T) {
	setTempHome(t)

	h, err := Load("bot")
	require.NoError(t, err)
	assert.Equal(t, "bot", h.Recipe)
	assert.Empty(t, h.Builds)
	assert.Nil(t, h.Last())

	last, err := Last("bot")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestLoad_Corrupt(t *testing.T) {
	setTempHome(t)
	require.NoError(t, os.MkdirAll(StateDir(), 0755))
	require.NoError(t, os.WriteFile(StatePath("bot"), []byte("{not json"), 0644))

	_, err := Load("bot")
	assert.ErrorContains(t, err, "parsing state file")
}

func TestAppend_KeepsNewest(t *testing.T) {
	setTempHome(t)

	for i := 0; i < 5; i++ {
		b := Build{
			ID:         string(rune('a' + i)),
			DepsDigest: digest.FromString("deps"),
			StartedAt:  time.Unix(int64(i), 0).UTC(),
		}
		require.NoError(t, Append("bot", b, 3))
	}

	h, err := Load("bot")
	require.NoError(t, err)
	require.Len(t, h.Builds, 3)
	assert.Equal(t, "c", h.Builds[0].ID)
	assert.Equal(t, "e", h.Last().ID)
	assert.Equal(t, digest.FromString("deps"), h.Last().DepsDigest)

	_, err = os.Stat(StatePath("bot") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSave_RequiresName(t *testing.T) {
	setTempHome(t)
	assert.Error(t, Save(&History{}))
	assert.Error(t, Save(nil))
}

func TestListAndDelete(t *testing.T) {
	setTempHome(t)

	names, err := List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, Append("api", Build{ID: "1"}, 0))
	require.NoError(t, Append("bot", Build{ID: "2"}, 0))

	names, err = List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api", "bot"}, names)

	require.NoError(t, Delete("api"))
	require.NoError(t, Delete("api"))
	names, err = List()
	require.NoError(t, err)
	assert.Equal(t, []string{"bot"}, names)
}

func TestWithLock_Serializes(t *testing.T) {
	setTempHome(t)

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock("bot", 5*time.Second, func() error {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
}

func TestWithLock_Timeout(t *testing.T) {
	setTempHome(t)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = WithLock("bot", time.Second, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := WithLock("bot", 150*time.Millisecond, func() error { return nil })
	assert.ErrorContains(t, err, "timeout acquiring state lock")
}
