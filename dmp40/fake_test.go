package dmp40_test

import (
	"fmt"
	"sync"

	"github.com/nasa-jpl/golab-dmp40/dmp40"
	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

// fakeDriver is a scripted driver that journals every call
type fakeDriver struct {
	mu sync.Mutex

	count      int
	countErr   error
	connectErr []error // consumed one per Connect call
	sess       *fakeSession
	calls      []string
}

func newFake(segs, tilts int, remaining ...int) *fakeDriver {
	d := &fakeDriver{count: 1}
	d.sess = &fakeSession{drv: d, segs: segs, tilts: tilts, remaining: remaining}
	return d
}

func (d *fakeDriver) record(format string, a ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, a...))
}

func (d *fakeDriver) journal() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) countOf(name string) int {
	n := 0
	for _, c := range d.journal() {
		if c == name {
			n++
		}
	}
	return n
}

func (d *fakeDriver) DeviceCount() (int, error) {
	d.record("DeviceCount")
	return d.count, d.countErr
}

func (d *fakeDriver) DeviceInfo(idx int) (dfm.DeviceInfo, error) {
	d.record("DeviceInfo")
	if idx >= d.count {
		return dfm.DeviceInfo{}, dfm.ErrNoSuchDevice
	}
	return dfm.DeviceInfo{Index: idx, InstrumentName: "DMP40", Resource: "FAKE::0"}, nil
}

func (d *fakeDriver) Connect(resource string, idQuery, reset bool) (dfm.Session, error) {
	d.record("Connect")
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.connectErr) > 0 {
		err := d.connectErr[0]
		d.connectErr = d.connectErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return d.sess, nil
}

// fakeSession returns the scripted remaining-step counts in order
type fakeSession struct {
	drv *fakeDriver

	segs, tilts int
	remaining   []int
	firstFlags  []bool
	relaxErr    error
	zernikeErr  error
	setSegErr   error
	closeErr    error
	lastSegs    []float64
	lastTilts   []float64
	segLens     []int
	tiltLens    []int
}

func (s *fakeSession) SegmentCount() (int, error) {
	s.drv.record("SegmentCount")
	return s.segs, nil
}

func (s *fakeSession) TiltCount() (int, error) {
	s.drv.record("TiltCount")
	return s.tilts, nil
}

func (s *fakeSession) Relax(part dfm.DevicePart, first, reload bool, mirror, arms []float64) (int, error) {
	s.drv.record("Relax")
	s.firstFlags = append(s.firstFlags, first)
	if s.relaxErr != nil {
		return 0, s.relaxErr
	}
	if len(s.remaining) == 0 {
		// never converges
		return 1, nil
	}
	r := s.remaining[0]
	s.remaining = s.remaining[1:]
	for i := range mirror {
		mirror[i] = float64(r)
	}
	return r, nil
}

func (s *fakeSession) ZernikePattern(flag dfm.ZernikeFlag, amplitude float64, pattern []float64) error {
	s.drv.record("ZernikePattern")
	if s.zernikeErr != nil {
		return s.zernikeErr
	}
	for i := range pattern {
		pattern[i] = amplitude
	}
	return nil
}

func (s *fakeSession) SetSegmentVoltages(v []float64) error {
	s.drv.record("SetSegmentVoltages")
	s.segLens = append(s.segLens, len(v))
	s.lastSegs = append([]float64(nil), v...)
	return s.setSegErr
}

func (s *fakeSession) SetTiltVoltages(v []float64) error {
	s.drv.record("SetTiltVoltages")
	s.tiltLens = append(s.tiltLens, len(v))
	s.lastTilts = append([]float64(nil), v...)
	return nil
}

func (s *fakeSession) SegmentVoltages(v []float64) error {
	s.drv.record("SegmentVoltages")
	copy(v, s.lastSegs)
	return nil
}

func (s *fakeSession) TiltVoltages(v []float64) error {
	s.drv.record("TiltVoltages")
	copy(v, s.lastTilts)
	return nil
}

func (s *fakeSession) Close() error {
	s.drv.record("Close")
	return s.closeErr
}

// nopReporter discards progress
type nopReporter struct {
	devices  []int
	steps    []int
	failures []error
	closed   int
}

func (n *nopReporter) DevicesFound(c int)                      { n.devices = append(n.devices, c) }
func (n *nopReporter) Connected(dfm.DeviceInfo)                {}
func (n *nopReporter) Geometry(dmp40.Geometry)                 {}
func (n *nopReporter) RelaxStarted()                           {}
func (n *nopReporter) RelaxStep(step, remaining int)           { n.steps = append(n.steps, step) }
func (n *nopReporter) RelaxComplete(int)                       {}
func (n *nopReporter) RelaxFailed(err error)                   { n.failures = append(n.failures, err) }
func (n *nopReporter) Voltages(string, []float64)              {}
func (n *nopReporter) PatternApplied(dfm.ZernikeFlag, float64) {}
func (n *nopReporter) Closed(error)                            { n.closed++ }
