// Package metrics exposes Prometheus instrumentation for the control loop,
// the operator link, and the sensor/actuator subsystems.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics holds every Prometheus collector the firmware registers.
type Metrics struct {
	// Control loop metrics
	ControlTicksTotal    prometheus.Counter
	ControlTickDuration   prometheus.Histogram
	ControlLoopOverruns  prometheus.Counter
	WatchdogTrips        prometheus.Counter

	// Operator link metrics
	OperatorConnected      prometheus.Gauge
	OperatorMessagesTotal  *prometheus.CounterVec
	TelemetryPublished     prometheus.Counter
	StatusPublished        prometheus.Counter

	// Sensor metrics
	SensorHealth    *prometheus.GaugeVec
	ImuSampleRate   prometheus.Gauge
	PressureDepth   prometheus.Gauge
	BatteryPercent  prometheus.Gauge

	// Actuation metrics
	ThrusterCommand *prometheus.GaugeVec
	ThrusterRPM     *prometheus.GaugeVec
	AllocatorClips  prometheus.Counter

	// Serial link metrics
	SerialFramesTotal *prometheus.CounterVec
	SerialWriteErrors prometheus.Counter

	// Auto-tune metrics
	AutoTuneRunsTotal *prometheus.CounterVec
	AutoTunePhase     *prometheus.GaugeVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the process-wide metrics instance, creating it on
// first call.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = initializeMetrics()
	})
	return globalMetrics
}

func initializeMetrics() *Metrics {
	m := &Metrics{}

	m.ControlTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "control",
		Name:      "ticks_total",
		Help:      "Total number of control loop ticks executed",
	})

	m.ControlTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trident",
		Subsystem: "control",
		Name:      "tick_duration_seconds",
		Help:      "Wall time spent processing one control loop tick",
		Buckets:   []float64{.0001, .0005, .001, .002, .005, .01, .02, .05},
	})

	m.ControlLoopOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "control",
		Name:      "loop_overruns_total",
		Help:      "Total control ticks whose processing time exceeded the tick period",
	})

	m.WatchdogTrips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "control",
		Name:      "watchdog_trips_total",
		Help:      "Total times the direction vector watchdog forced a neutral command",
	})

	m.OperatorConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "operator",
		Name:      "connected",
		Help:      "Whether an operator client is currently connected (1) or not (0)",
	})

	m.OperatorMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "operator",
		Name:      "messages_total",
		Help:      "Total operator protocol messages by direction and type",
	}, []string{"direction", "type"})

	m.TelemetryPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "operator",
		Name:      "telemetry_published_total",
		Help:      "Total telemetry messages published",
	})

	m.StatusPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "operator",
		Name:      "status_published_total",
		Help:      "Total status messages published",
	})

	m.SensorHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "sensors",
		Name:      "health",
		Help:      "Sensor health state (1 = ok, 0 = faulted) by sensor name",
	}, []string{"sensor"})

	m.ImuSampleRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "sensors",
		Name:      "imu_sample_rate_hz",
		Help:      "Observed IMU sample rate",
	})

	m.PressureDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "sensors",
		Name:      "depth_meters",
		Help:      "Current filtered depth reading",
	})

	m.BatteryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "sensors",
		Name:      "battery_percent",
		Help:      "Estimated remaining battery percentage",
	})

	m.ThrusterCommand = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "thruster",
		Name:      "command",
		Help:      "Allocated per-thruster command, -1..1, by channel index",
	}, []string{"channel"})

	m.ThrusterRPM = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "thruster",
		Name:      "rpm",
		Help:      "ESC-reported electrical RPM by channel index",
	}, []string{"channel"})

	m.AllocatorClips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "thruster",
		Name:      "allocator_clips_total",
		Help:      "Total allocator outputs clipped to the -1..1 range",
	})

	m.SerialFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "serial",
		Name:      "frames_total",
		Help:      "Total serial frames by direction and result",
	}, []string{"direction", "result"})

	m.SerialWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "serial",
		Name:      "write_errors_total",
		Help:      "Total actuation frame writes that failed after retry",
	})

	m.AutoTuneRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trident",
		Subsystem: "autotune",
		Name:      "runs_total",
		Help:      "Total auto-tune runs by terminal result",
	}, []string{"result"})

	m.AutoTunePhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trident",
		Subsystem: "autotune",
		Name:      "phase",
		Help:      "Current auto-tune relay phase by axis (0 = idle, 1 = running, 2 = done)",
	}, []string{"axis"})

	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordControlTick records one control loop tick's processing duration and
// flags an overrun if it exceeded period.
func RecordControlTick(duration, period time.Duration) {
	m := GetMetrics()
	m.ControlTicksTotal.Inc()
	m.ControlTickDuration.Observe(duration.Seconds())
	if duration > period {
		m.ControlLoopOverruns.Inc()
	}
}

// RecordWatchdogTrip records the direction vector watchdog forcing neutral.
func RecordWatchdogTrip() {
	GetMetrics().WatchdogTrips.Inc()
}

// UpdateOperatorConnected sets the operator-connected gauge.
func UpdateOperatorConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	GetMetrics().OperatorConnected.Set(v)
}

// RecordOperatorMessage records one inbound or outbound operator message.
func RecordOperatorMessage(direction, msgType string) {
	GetMetrics().OperatorMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordTelemetryPublished records one telemetry publish tick.
func RecordTelemetryPublished() {
	GetMetrics().TelemetryPublished.Inc()
}

// RecordStatusPublished records one status publish tick.
func RecordStatusPublished() {
	GetMetrics().StatusPublished.Inc()
}

// UpdateSensorHealth sets a sensor's health gauge.
func UpdateSensorHealth(sensor string, ok bool) {
	v := 0.0
	if ok {
		v = 1.0
	}
	GetMetrics().SensorHealth.WithLabelValues(sensor).Set(v)
}

// UpdateImuSampleRate sets the observed IMU sample rate.
func UpdateImuSampleRate(hz float64) {
	GetMetrics().ImuSampleRate.Set(hz)
}

// UpdatePressureDepth sets the current filtered depth reading.
func UpdatePressureDepth(meters float64) {
	GetMetrics().PressureDepth.Set(meters)
}

// UpdateBatteryPercent sets the estimated battery percentage.
func UpdateBatteryPercent(pct float64) {
	GetMetrics().BatteryPercent.Set(pct)
}

// UpdateThrusterCommand sets the allocated command for one channel.
func UpdateThrusterCommand(channel int, value float64) {
	GetMetrics().ThrusterCommand.WithLabelValues(channelLabel(channel)).Set(value)
}

// UpdateThrusterRPM sets the ESC-reported RPM for one channel.
func UpdateThrusterRPM(channel int, rpm float64) {
	GetMetrics().ThrusterRPM.WithLabelValues(channelLabel(channel)).Set(rpm)
}

// RecordAllocatorClip records one allocator output being clipped.
func RecordAllocatorClip() {
	GetMetrics().AllocatorClips.Inc()
}

// RecordSerialFrame records one serial frame transfer outcome.
func RecordSerialFrame(direction, result string) {
	GetMetrics().SerialFramesTotal.WithLabelValues(direction, result).Inc()
}

// RecordSerialWriteError records an actuation write failing after retry.
func RecordSerialWriteError() {
	GetMetrics().SerialWriteErrors.Inc()
}

// RecordAutoTuneRun records an auto-tune run reaching a terminal result
// ("completed", "canceled", "rejected").
func RecordAutoTuneRun(result string) {
	GetMetrics().AutoTuneRunsTotal.WithLabelValues(result).Inc()
}

// UpdateAutoTunePhase sets one axis's relay-tune phase gauge.
func UpdateAutoTunePhase(axis string, phase float64) {
	GetMetrics().AutoTunePhase.WithLabelValues(axis).Set(phase)
}

func channelLabel(channel int) string {
	const digits = "01234567"
	if channel < 0 || channel >= len(digits) {
		return "?"
	}
	return digits[channel : channel+1]
}
