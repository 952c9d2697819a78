package robot

import (
	"context"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/linebot/pkg/hw"
)

// BusMount is a sensor mount driven by a single STS bus servo.
type BusMount struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration MountCalibration
}

// NewBusMount opens the servo bus on port and enables the mount servo.
func NewBusMount(ctx context.Context, port string, cal MountCalibration) (*BusMount, error) {
	if !cal.IsCalibrated() {
		return nil, fmt.Errorf("mount servo %d: not calibrated", cal.ID)
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	m := &BusMount{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, cal.ID),
		calibration: cal,
	}
	if err := m.group.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable mount servo %d: %w", cal.ID, err)
	}
	return m, nil
}

// Close releases the servo and closes the bus.
func (m *BusMount) Close() error {
	m.group.DisableAll(context.Background())
	return m.bus.Close()
}

// WriteAngle implements hw.Mount.
func (m *BusMount) WriteAngle(ctx context.Context, degrees int) error {
	raw := m.calibration.Raw(float64(degrees))
	if err := m.group.SetPositions(ctx, feetech.PositionMap{m.calibration.ID: raw}); err != nil {
		return fmt.Errorf("write mount position: %w", err)
	}
	return nil
}

var _ hw.Mount = (*BusMount)(nil)
