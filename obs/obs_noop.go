//go:build nometrics

package obs

import (
	"context"
	"time"
)

func ObserveRequest(string, time.Duration, string) {}

func AddLateStageSent(int) {}

func ObserveFallbackFlush(int) {}

func IncDroppedDispatch(string) {}

func IncDeadlineFired() {}

func InitTracer(string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
