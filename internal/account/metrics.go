package account

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/d9705996/rollcall/internal/account"

var (
	eventsOnce sync.Once
	events     metric.Int64Counter
)

// recordEvent counts one account flow outcome, e.g. "registered" or
// "login_failed".
func recordEvent(ctx context.Context, event string) {
	eventsOnce.Do(func() {
		var err error
		events, err = otel.Meter(instrumentationName).Int64Counter("rollcall.account.events",
			metric.WithDescription("Account flow outcomes by event."))
		if err != nil {
			events, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("rollcall.account.events")
		}
	})
	events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
