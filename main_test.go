package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	a := assert.New(t)

	a.Equal("recall.db", cfg.ApplicationDatabase)
	a.Equal("cache.db", cfg.ApplicationCachePath)
	a.Equal(":8080", cfg.ApplicationAddr)
	a.Equal(time.Hour, cfg.AutoSyncInterval.Duration())
	a.Equal(time.Minute*5, cfg.AutoSyncCheckInterval.Duration())
}

func TestNewLogFile(t *testing.T) {
	a := assert.New(t)

	l := newLogFile("/var/log/recall.log")
	a.Equal("/var/log/recall.log", l.Filename)
	a.Equal(10, l.MaxSize)
	a.Equal(5, l.MaxBackups)
	a.Equal(28, l.MaxAge)
	a.True(l.Compress)
}
