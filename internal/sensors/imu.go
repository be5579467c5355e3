package sensors

import (
	"context"
	"time"

	"github.com/alitto/pond"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

// ImuPollInterval is the nominal polling period; the underlying sensor
// SDK is best-effort at this rate, not guaranteed.
const ImuPollInterval = time.Second / 100

// ImuSample is one raw reading off the inertial sensor, before it is
// folded into shared vehicle state.
type ImuSample struct {
	Acceleration [3]float64
	Gyroscope    [3]float64
	Temperature  float64
}

// ImuDriver is the boundary to the actual inertial-sensor SDK. A real
// driver binds to whatever bus the sensor sits on (I2C, SPI, a vendor
// library); none ships here; production builds supply a concrete
// implementation and this package only owns polling, health tracking
// and the blocking-call isolation around it.
type ImuDriver interface {
	Read() (ImuSample, error)
}

// ImuReader polls an ImuDriver on its own cadence, offloading each
// blocking Read call onto a small worker pool so a slow or wedged
// driver never stalls the poll loop's own goroutine, let alone the
// control tick that reads the result out of shared state.
type ImuReader struct {
	log    *logrus.Logger
	driver ImuDriver
	pool   *pond.WorkerPool
}

// NewImuReader wires a reader to its driver, with a one-worker pool
// dedicated to this sensor's blocking reads.
func NewImuReader(log *logrus.Logger, driver ImuDriver) *ImuReader {
	return &ImuReader{log: log, driver: driver, pool: pond.New(1, 4)}
}

// Run polls at ImuPollInterval until ctx is canceled.
func (r *ImuReader) Run(ctx context.Context, v *state.Vehicle) {
	defer r.pool.StopAndWait()

	ticker := time.NewTicker(ImuPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(v)
		}
	}
}

func (r *ImuReader) poll(v *state.Vehicle) {
	result := make(chan error, 1)
	var sample ImuSample
	r.pool.Submit(func() {
		s, err := r.driver.Read()
		sample = s
		result <- err
	})

	select {
	case err := <-result:
		if err != nil {
			v.SetImuUnhealthy()
			r.log.WithError(err).Warn("imu read failed")
			return
		}
		v.SetImu(state.ImuSample{
			Acceleration: sample.Acceleration,
			Gyroscope:    sample.Gyroscope,
			Temperature:  sample.Temperature,
			MeasuredAt:   time.Now(),
		})
	case <-time.After(ImuPollInterval * 5):
		v.SetImuUnhealthy()
		r.log.Warn("imu read timed out")
	}
}
