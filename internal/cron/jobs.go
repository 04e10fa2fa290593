package cron

import (
	"context"

	"gorm.io/gorm"
)

// Job is one unit of the cron worker's sweep. Jobs run in order, and one
// job failing does not stop the rest.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
