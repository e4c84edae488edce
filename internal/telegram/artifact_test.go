package telegram

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-harvester/internal/models"
)

func TestArtifactStore_SaveLoadDelete(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	acc := models.Account{ID: 7, PhoneNumber: "+1 (555) 010-2030"}
	assert.False(t, store.Exists(acc))

	data, err := store.Load(acc)
	require.NoError(t, err)
	assert.Nil(t, data, "absent artifact loads as nil")

	require.NoError(t, store.Save(acc, []byte(`{"Version":1}`)))
	assert.True(t, store.Exists(acc))
	assert.Contains(t, store.Path(acc), "15550102030.session")

	data, err = store.Load(acc)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"Version":1}`), data)

	// overwrite keeps a single row
	require.NoError(t, store.Save(acc, []byte(`{"Version":2}`)))
	data, err = store.Load(acc)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"Version":2}`), data)

	info, err := os.Stat(store.Path(acc))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete(acc))
	assert.False(t, store.Exists(acc))
	require.NoError(t, store.Delete(acc), "deleting twice is fine")
}

func TestArtifactStore_RejectsEmpty(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Save(models.Account{PhoneNumber: "+100"}, nil))
}

func TestArtifactStore_CorruptFile(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	acc := models.Account{PhoneNumber: "+1555"}
	garbage := []byte(strings.Repeat("this is not a sqlite database ", 64))
	require.NoError(t, os.WriteFile(store.Path(acc), garbage, 0o600))

	_, err = store.Load(acc)
	assert.Error(t, err)
	assert.Error(t, store.Save(acc, []byte(`{"Version":1}`)))

	// the failed opens released the file, so it can be replaced by a fresh artifact
	require.NoError(t, store.Delete(acc))
	require.NoError(t, store.Save(acc, []byte(`{"Version":1}`)))
	data, err := store.Load(acc)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"Version":1}`), data)
}
