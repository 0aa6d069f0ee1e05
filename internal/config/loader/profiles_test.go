package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirNormalizesBots(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "alice.yaml", `
owner: alice
bots:
  - id: " alice-trend "
    prompt: 做趋势
    symbols: [btcusdt, " ethusdt "]
`)

	owners, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	require.Len(t, owners[0].Bots, 1)

	bot := owners[0].Bots[0]
	assert.Equal(t, "alice-trend", bot.ID)
	assert.Equal(t, "alice-trend", bot.Name, "缺省 name 回落到 id")
	assert.Equal(t, "paper", bot.Mode, "缺省 mode 为 paper")
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, bot.Symbols)
}

func TestLoadDirSortsByFileName(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "b-bob.yaml", "owner: bob\nbots: [{id: bob-1}]\n")
	writeProfile(t, dir, "a-alice.yaml", "owner: alice\nbots: [{id: alice-1}]\n")

	owners, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, "alice", owners[0].Owner)
	assert.Equal(t, "bob", owners[1].Owner)
}

func TestLoadDirRejectsDuplicateOwner(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", "owner: alice\nbots: [{id: a-1}]\n")
	writeProfile(t, dir, "b.yaml", "owner: alice\nbots: [{id: a-2}]\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already declared")
}

func TestLoadDirRejectsDuplicateBotIDAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", "owner: alice\nbots: [{id: shared}]\n")
	writeProfile(t, dir, "b.yaml", "owner: bob\nbots: [{id: shared}]\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared")
}

func TestLoadDirRejectsRealModeWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", `
owner: alice
bots:
  - id: alice-real
    mode: real
`)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoadDirRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", "owner: alice\nbots: [{id: a-1, mode: shadow}]\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestLoadDirIgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", "owner: alice\nbots: [{id: a-1}]\n")
	writeProfile(t, dir, "notes.txt", "not yaml")

	owners, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, owners, 1)
}

func TestLoadDirMissingDir(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
