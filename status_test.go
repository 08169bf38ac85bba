package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vaultsync/core/internal/syncengine"
	"github.com/vaultsync/core/internal/work"
)

func TestPrintStatusJSONEmptyWorkUnits(t *testing.T) {
	report := &syncengine.StatusReport{LastSyncedAt: time.Unix(0, 0)}
	err := printStatusJSON(report)
	assert.NoError(t, err)
}

func TestNewStatusCmdStructure(t *testing.T) {
	cmd := newStatusCmd()
	assert.Equal(t, "status", cmd.Name())
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.RunE)
}

func TestPrintStatusTextUpToDate(t *testing.T) {
	report := &syncengine.StatusReport{LastSyncedAt: time.Now()}
	// No assertion on stdout content here — just confirm it doesn't panic on
	// an empty work unit list, the "nothing pending" path.
	printStatusText(report)
}

func TestPrintStatusTextWithWorkUnits(t *testing.T) {
	report := &syncengine.StatusReport{
		WorkUnits: []syncengine.WorkUnitStatus{
			{Kind: work.PushNewFile, Name: "notes.md", Message: "notes.md has local changes that need to be pushed"},
		},
	}
	printStatusText(report)
}
