package notify

import (
	"context"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Fanout hands each event to every emitter in order.
type Fanout []appointment.Emitter

func (f Fanout) Emit(ctx context.Context, ev appointment.Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ctx, ev)
		}
	}
}
