package boot

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

func TestMustReleasesClientsNewestFirstBeforeExiting(t *testing.T) {
	var logs bytes.Buffer
	var closed []string
	code := -1
	p := &Process{
		Kind:   "cron-worker",
		Logger: logger.New(logger.Options{ServiceName: "cron-worker", Output: &logs}),
		exit:   func(c int) { code = c },
	}
	p.onClose("database", func() error { closed = append(closed, "database"); return nil })
	p.onClose("redis", func() error {
		closed = append(closed, "redis")
		return errors.New("redis: client is closed")
	})

	lock := Must(p, "cron lock", func() (string, error) { return "", errors.New("lock ttl must be positive") })

	assert.Empty(t, lock)
	assert.Equal(t, 1, code)
	assert.Equal(t, []string{"redis", "database"}, closed)
	assert.Contains(t, logs.String(), "cron lock failed")
	assert.Contains(t, logs.String(), "close redis")

	p.Close()
	assert.Len(t, closed, 2, "clients are released once")
}

func TestMustPassesValueThrough(t *testing.T) {
	p := &Process{Logger: logger.New(logger.Options{ServiceName: "api", Output: &bytes.Buffer{}}), exit: func(int) { t.Fatal("unexpected exit") }}
	assert.Equal(t, 3, Must(p, "seed lab inventory", func() (int, error) { return 3, nil }))
}
