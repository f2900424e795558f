package banner

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/d9705996/rollcall/internal/banner"

type instruments struct {
	activations metric.Int64Counter
	hides       metric.Int64Counter
	live        metric.Int64UpDownCounter
}

var (
	instOnce sync.Once
	inst     instruments
)

// meters lazily binds the package instruments to the global MeterProvider.
// observability.New installs the real provider before any banner exists.
func meters() *instruments {
	instOnce.Do(func() {
		m := otel.Meter(instrumentationName)
		fallback := noop.NewMeterProvider().Meter(instrumentationName)

		var err error
		inst.activations, err = m.Int64Counter("rollcall.banner.activations",
			metric.WithDescription("Banner activations, including restarts on input change."))
		if err != nil {
			inst.activations, _ = fallback.Int64Counter("rollcall.banner.activations")
		}
		inst.hides, err = m.Int64Counter("rollcall.banner.hides",
			metric.WithDescription("Decoration overlays hidden by the hide timer."))
		if err != nil {
			inst.hides, _ = fallback.Int64Counter("rollcall.banner.hides")
		}
		inst.live, err = m.Int64UpDownCounter("rollcall.banner.live",
			metric.WithDescription("Banner instances that have not been torn down."))
		if err != nil {
			inst.live, _ = fallback.Int64UpDownCounter("rollcall.banner.live")
		}
	})
	return &inst
}

func recordActivation(trigger string) {
	meters().activations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("trigger", trigger)))
}

func recordHide() {
	meters().hides.Add(context.Background(), 1)
}

func recordLive(delta int64) {
	meters().live.Add(context.Background(), delta)
}
