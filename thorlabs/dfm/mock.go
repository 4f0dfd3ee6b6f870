package dfm

import (
	"math"
	"sync"

	"github.com/nasa-jpl/golab-dmp40/util"
)

const (
	// MockMaxVoltage is the upper limit of the simulated actuators
	MockMaxVoltage = 200.

	// MockBias is the voltage the simulated mirror relaxes to
	MockBias = 100.

	// MockRelaxSteps is the default length of the simulated relaxation
	MockRelaxSteps = 12
)

// Mock is an in-memory stand-in for the vendor drivers.  It follows the
// driver contract (buffer sizes, remaining step countdown, status codes)
// and does not model the mirror.
type Mock struct {
	sync.Mutex

	// Devices is what discovery reports
	Devices []DeviceInfo

	// Segments and Tilts are the geometry of every mock device
	Segments int
	Tilts    int

	// RelaxSteps is how many relax calls a full relaxation takes
	RelaxSteps int

	open int
}

// NewMockDMP40 returns a mock with a single available DMP40
func NewMockDMP40() *Mock {
	return &Mock{
		Devices: []DeviceInfo{{
			Index:          0,
			Manufacturer:   "Thorlabs GmbH",
			InstrumentName: "DMP40",
			SerialNumber:   "MOCK0000",
			Available:      true,
			Resource:       "MOCK::DMP40::0::INSTR",
		}},
		Segments:   DMP40Segments,
		Tilts:      DMP40Tilts,
		RelaxSteps: MockRelaxSteps,
	}
}

// DeviceCount returns len(Devices)
func (m *Mock) DeviceCount() (int, error) {
	m.Lock()
	defer m.Unlock()
	return len(m.Devices), nil
}

// DeviceInfo returns Devices[idx]
func (m *Mock) DeviceInfo(idx int) (DeviceInfo, error) {
	m.Lock()
	defer m.Unlock()
	if idx < 0 || idx >= len(m.Devices) {
		return DeviceInfo{}, ErrNoSuchDevice
	}
	return m.Devices[idx], nil
}

// Connect opens a session on the device whose Resource matches
func (m *Mock) Connect(resource string, idQuery, reset bool) (Session, error) {
	m.Lock()
	defer m.Unlock()
	for _, d := range m.Devices {
		if d.Resource != resource {
			continue
		}
		if !d.Available {
			return nil, Error{Code: StatusResourceLocked}
		}
		m.open++
		s := &MockSession{
			mock:   m,
			info:   d,
			steps:  m.RelaxSteps,
			segV:   make([]float64, m.Segments),
			tiltV:  make([]float64, m.Tilts),
			layout: segmentLayout(m.Segments),
		}
		return s, nil
	}
	return nil, Error{Code: StatusResourceNotFound}
}

// OpenSessions returns the number of sessions not yet closed
func (m *Mock) OpenSessions() int {
	m.Lock()
	defer m.Unlock()
	return m.open
}

// MockSession is a session on a Mock device
type MockSession struct {
	sync.Mutex

	mock      *Mock
	info      DeviceInfo
	steps     int
	remaining int
	started   bool
	closed    bool
	segV      []float64
	tiltV     []float64
	layout    []polar
}

// SegmentCount returns the number of mirror segments
func (s *MockSession) SegmentCount() (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.segV), nil
}

// TiltCount returns the number of tilt arms
func (s *MockSession) TiltCount() (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.tiltV), nil
}

// Relax produces an alternating pattern that decays toward MockBias as the
// remaining step count falls to zero
func (s *MockSession) Relax(part DevicePart, first, reload bool, mirror, arms []float64) (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if part > PartBoth {
		return 0, Error{Code: StatusParameter2}
	}
	if err := checkLen(mirror, len(s.segV), "mirror pattern"); err != nil {
		return 0, err
	}
	if err := checkLen(arms, len(s.tiltV), "arm pattern"); err != nil {
		return 0, err
	}
	if first {
		s.started = true
		s.remaining = s.steps
	} else if !s.started {
		return 0, Error{Code: StatusParameter3}
	}
	if s.remaining > 0 {
		s.remaining--
	}
	amp := 0.
	if s.steps > 0 {
		amp = (MockMaxVoltage - MockBias) * float64(s.remaining) / float64(s.steps)
	}
	if (s.steps-s.remaining)%2 == 0 {
		amp = -amp
	}
	fill := func(dst, cur []float64, drive bool) {
		for i := range dst {
			if drive {
				dst[i] = MockBias + amp
			} else {
				dst[i] = cur[i]
			}
		}
	}
	fill(mirror, s.segV, part != PartArms)
	fill(arms, s.tiltV, part != PartMirror)
	if s.remaining == 0 {
		s.started = false
	}
	return s.remaining, nil
}

// ZernikePattern evaluates the flagged modes at the simulated segment centers
func (s *MockSession) ZernikePattern(flag ZernikeFlag, amplitude float64, pattern []float64) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if flag&^AllZernikes != 0 {
		return Error{Code: StatusParameter2}
	}
	if amplitude < -1 || amplitude > 1 {
		return Error{Code: StatusParameter3}
	}
	if err := checkLen(pattern, len(s.segV), "zernike pattern"); err != nil {
		return err
	}
	modes := flag.Modes()
	for i, p := range s.layout {
		sum := 0.
		for _, mode := range modes {
			sum += zernikeShape(mode, p.r, p.theta)
		}
		v := MockBias + amplitude*(MockMaxVoltage-MockBias)*sum
		pattern[i] = util.Clamp(v, 0, MockMaxVoltage)
	}
	return nil
}

func (s *MockSession) set(dst, src []float64, what string) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := checkLen(src, len(dst), what); err != nil {
		return err
	}
	for _, v := range src {
		if v < 0 || v > MockMaxVoltage || math.IsNaN(v) {
			return Error{Code: StatusParameter2}
		}
	}
	copy(dst, src)
	return nil
}

func (s *MockSession) get(dst, src []float64, what string) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := checkLen(dst, len(src), what); err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// SetSegmentVoltages applies one voltage per segment
func (s *MockSession) SetSegmentVoltages(v []float64) error {
	return s.set(s.segV, v, "segment voltages")
}

// SetTiltVoltages applies one voltage per tilt arm
func (s *MockSession) SetTiltVoltages(v []float64) error {
	return s.set(s.tiltV, v, "tilt voltages")
}

// SegmentVoltages reads back the segment voltages
func (s *MockSession) SegmentVoltages(v []float64) error {
	return s.get(v, s.segV, "segment voltages")
}

// TiltVoltages reads back the tilt arm voltages
func (s *MockSession) TiltVoltages(v []float64) error {
	return s.get(v, s.tiltV, "tilt voltages")
}

// Close ends the session
func (s *MockSession) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.mock.Lock()
	s.mock.open--
	s.mock.Unlock()
	return nil
}

// polar is a segment center on the unit pupil
type polar struct {
	r, theta float64
}

// segmentLayout places n segments on concentric rings of 4, 12, 24, 36...
// centers, the outer ring holding whatever is left over
func segmentLayout(n int) []polar {
	var sizes []int
	ring := 4
	for left := n; left > 0; {
		size := ring
		if size > left {
			size = left
		}
		sizes = append(sizes, size)
		left -= size
		if ring == 4 {
			ring = 12
		} else {
			ring += 12
		}
	}
	out := make([]polar, 0, n)
	rings := float64(len(sizes))
	for k, size := range sizes {
		r := (float64(k) + 0.5) / rings
		for j := 0; j < size; j++ {
			out = append(out, polar{r: r, theta: 2 * math.Pi * float64(j) / float64(size)})
		}
	}
	return out
}

// zernikeShape evaluates a single mode at (r, theta), peak magnitude 1 on the unit disk
func zernikeShape(mode ZernikeFlag, r, t float64) float64 {
	r2 := r * r
	switch mode {
	case Ast45:
		return r2 * math.Sin(2*t)
	case Defocus:
		return 2*r2 - 1
	case Ast0:
		return r2 * math.Cos(2*t)
	case TrefoilY:
		return r2 * r * math.Sin(3*t)
	case ComaX:
		return (3*r2 - 2) * r * math.Cos(t)
	case ComaY:
		return (3*r2 - 2) * r * math.Sin(t)
	case TrefoilX:
		return r2 * r * math.Cos(3*t)
	case TetrafoilY:
		return r2 * r2 * math.Sin(4*t)
	case SecAstY:
		return (4*r2 - 3) * r2 * math.Sin(2*t)
	case SphericalAb3:
		return 6*r2*r2 - 6*r2 + 1
	case SecAstX:
		return (4*r2 - 3) * r2 * math.Cos(2*t)
	case TetrafoilX:
		return r2 * r2 * math.Cos(4*t)
	}
	return 0
}

var (
	_ Driver  = (*Mock)(nil)
	_ Session = (*MockSession)(nil)
)
