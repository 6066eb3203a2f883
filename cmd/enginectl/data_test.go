package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instagram-automation/internal/config"
	"instagram-automation/internal/models"
	"instagram-automation/internal/testutil"
)

func TestCopyTableSkipsExistingRows(t *testing.T) {
	src := testutil.NewDB(t)
	dst := testutil.NewDB(t)

	require.NoError(t, src.Create(&models.Workspace{ID: "ws1", Name: "one"}).Error)
	require.NoError(t, src.Create(&models.Workspace{ID: "ws2", Name: "two"}).Error)
	require.NoError(t, dst.Create(&models.Workspace{ID: "ws1", Name: "kept"}).Error)

	n, err := copyTable(src, dst, "workspaces", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got []models.Workspace
	require.NoError(t, dst.Order("id").Find(&got).Error)
	require.Len(t, got, 2)
	assert.Equal(t, "kept", got[0].Name)
	assert.Equal(t, "two", got[1].Name)

	// Second run is a no-op.
	_, err = copyTable(src, dst, "workspaces", 1)
	require.NoError(t, err)
	var count int64
	dst.Model(&models.Workspace{}).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestCopyTableEmptySource(t *testing.T) {
	n, err := copyTable(testutil.NewDB(t), testutil.NewDB(t), "contacts", 50)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotRecordRequiresMedia(t *testing.T) {
	opts := &rootOptions{cfg: &config.Config{DatabaseDSN: "file::memory:"}}
	cmd := newSnapshotCommand(opts)
	cmd.SetArgs([]string{"record", "ws1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true

	err := cmd.ExecuteContext(context.Background())
	assert.Error(t, err)
}

func TestCopyDataRequiresSource(t *testing.T) {
	opts := &rootOptions{cfg: &config.Config{DatabaseDSN: "file::memory:"}}
	cmd := newCopyDataCommand(opts)
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--from")
}
