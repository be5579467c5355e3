package sensors

import (
	"context"
	"time"

	"github.com/alitto/pond"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

// PressurePollInterval is the healthy-link polling period.
const PressurePollInterval = time.Second / 50

// pressureBackoffInterval is the retry period once the sensor is marked
// unhealthy, until a read succeeds again.
const pressureBackoffInterval = 1 * time.Second

// pressureFailureLimit is the number of consecutive read failures
// tolerated before the sensor is marked unhealthy and polling backs off.
const pressureFailureLimit = 3

// PressureSample is one raw reading off the depth sensor, in the units
// the driver reports; FluidType selects the depth-from-pressure
// conversion the driver applies internally.
type PressureSample struct {
	Pressure         float64 // kPa
	WaterTemperature float64 // degrees C
	Depth            float64 // meters, positive down
}

// PressureDriver is the boundary to the actual depth-sensor SDK, not
// shipped here for the same reason as ImuDriver: production builds
// supply the concrete binding for whatever pressure transducer is
// fitted.
type PressureDriver interface {
	Read(fluidType string) (PressureSample, error)
}

// PressureReader polls a PressureDriver, tracking consecutive failures
// so a dead sensor drops this reader into a slow 1Hz retry
// cadence instead of spinning at full poll rate against a sensor that
// is not responding.
type PressureReader struct {
	log          *logrus.Logger
	driver       PressureDriver
	pool         *pond.WorkerPool
	fluidType    func() string
	consecutive  int
}

// NewPressureReader wires a reader to its driver. fluidType is called
// on every poll so a live config reload (salt/fresh water) takes effect
// without restarting the reader.
func NewPressureReader(log *logrus.Logger, driver PressureDriver, fluidType func() string) *PressureReader {
	return &PressureReader{log: log, driver: driver, pool: pond.New(1, 4), fluidType: fluidType}
}

// Run polls at PressurePollInterval, backing off to pressureBackoffInterval
// once pressureFailureLimit consecutive reads have failed, until ctx is
// canceled.
func (r *PressureReader) Run(ctx context.Context, v *state.Vehicle) {
	defer r.pool.StopAndWait()

	interval := PressurePollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.poll(v)
			if r.consecutive >= pressureFailureLimit {
				interval = pressureBackoffInterval
			} else {
				interval = PressurePollInterval
			}
			timer.Reset(interval)
		}
	}
}

func (r *PressureReader) poll(v *state.Vehicle) {
	fluid := r.fluidType()
	result := make(chan error, 1)
	var sample PressureSample
	r.pool.Submit(func() {
		s, err := r.driver.Read(fluid)
		sample = s
		result <- err
	})

	select {
	case err := <-result:
		if err != nil {
			r.fail(v, err)
			return
		}
		r.consecutive = 0
		v.SetPressure(state.PressureSample{
			Pressure:         sample.Pressure,
			WaterTemperature: sample.WaterTemperature,
			Depth:            sample.Depth,
			MeasuredAt:       time.Now(),
		})
	case <-time.After(PressurePollInterval * 5):
		r.fail(v, nil)
	}
}

func (r *PressureReader) fail(v *state.Vehicle, err error) {
	r.consecutive++
	if r.consecutive >= pressureFailureLimit {
		v.SetPressureUnhealthy()
	}
	if err != nil {
		r.log.WithError(err).WithField("consecutive", r.consecutive).Warn("pressure read failed")
	} else {
		r.log.WithField("consecutive", r.consecutive).Warn("pressure read timed out")
	}
}
