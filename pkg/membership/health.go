package membership

// HealthReporter is an optional interface that a Membership implementation
// may provide to report a local health score. Higher scores indicate worse
// health according to the underlying failure detector.
//
// A return value of -1 indicates the implementation is not started or does
// not support health reporting.
type HealthReporter interface {
    HealthScore() int
}
