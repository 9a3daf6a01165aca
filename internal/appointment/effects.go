package appointment

import "context"

// Effects receives committed transitions. Implementations must return quickly
// and must never report failure back to the engine.
type Effects interface {
	// SlotBooked is called with the slot as committed.
	SlotBooked(ctx context.Context, slot AppointmentSlot)
	// SlotReleased is called with the slot as it was just before release,
	// so patient and event references are still present.
	SlotReleased(ctx context.Context, slot AppointmentSlot)
}

type NopEffects struct{}

func (NopEffects) SlotBooked(context.Context, AppointmentSlot)   {}
func (NopEffects) SlotReleased(context.Context, AppointmentSlot) {}
