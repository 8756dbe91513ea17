package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneRejectsUnknownStage(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "--dir", dir, "clone", "webhooks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCloneRequiresGuildPair(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "--dir", dir, "clone", "roles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be configured")
}

func TestStageNamesSorted(t *testing.T) {
	names := stageNames()
	assert.Len(t, names, len(cloneStages))
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "roles")
	assert.Contains(t, names, "stickers")
}
