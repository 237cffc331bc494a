package cache

import (
	"context"
	"time"
)

// ReportCache holds serialized report payloads. A miss is (nil, false, nil).
//
// Generation is a shared counter that Advance bumps after every committed
// write. Callers embed it in their keys, so a payload computed before a write
// lands under a generation nobody reads any more.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	Advance(ctx context.Context) (int64, error)
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Advance(_ context.Context) (int64, error) {
	return 0, nil
}
