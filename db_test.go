package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDB_Settings(t *testing.T) {
	t.Cleanup(ResetTestDB)

	GetDB().SetSetting("plain_key", "plain_value")
	assert.Equal(t, "plain_value", GetDB().GetSetting("plain_key"))

	GetDB().SetSetting("plain_key", "updated")
	assert.Equal(t, "updated", GetDB().GetSetting("plain_key"))

	GetDB().DeleteSetting("plain_key")
	assert.Equal(t, "", GetDB().GetSetting("plain_key"))
}

func TestDB_SettingsEncrypted(t *testing.T) {
	t.Cleanup(ResetTestDB)

	key := SettingTokenPrefix + "someone"
	GetDB().SetSetting(key, "sensitive")
	assert.Equal(t, "sensitive", GetDB().GetSetting(key))

	var raw string
	GetDB().GetConnection().QueryRow("select value from settings where key = ?", key).Scan(&raw)
	assert.NotEqual(t, "sensitive", raw)
	assert.Contains(t, raw, "c:")
}

func TestDB_CommandLog(t *testing.T) {
	t.Cleanup(ResetTestDB)

	vin := "1FTEST00000000001"
	GetDB().LogCommandEvent(vin, CommandLock, "cmd-1", CommandResultSubmitted)
	GlobalMockTime.CurTime = GlobalMockTime.CurTime.Add(time.Minute)
	GetDB().LogCommandEvent(vin, CommandLock, "cmd-1", CommandResultSuccess)
	GlobalMockTime.CurTime = GlobalMockTime.CurTime.Add(time.Minute)
	GetDB().LogCommandEvent(vin, CommandUnlock, "cmd-2", CommandResultSubmitted)

	event := GetDB().GetLatestCommandEvent(vin, CommandLock)
	assert.NotNil(t, event)
	assert.Equal(t, CommandResultSuccess, event.Result)
	assert.Equal(t, "cmd-1", event.CommandID)

	events := GetDB().GetLatestCommandEvents(vin, 10)
	assert.Len(t, events, 3)
	assert.Equal(t, CommandUnlock, events[0].Command)

	events = GetDB().GetLatestCommandEvents(vin, 1)
	assert.Len(t, events, 1)

	assert.Nil(t, GetDB().GetLatestCommandEvent("unknown-vin", CommandLock))
}
