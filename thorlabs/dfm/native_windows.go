//go:build windows && amd64

package dfm

import (
	"math"
	"runtime"
	"sync"
	"unsafe"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

// procedures looked up in each library.  Every one is resolved in OpenNative
// so a bad install fails early instead of panicking in LazyProc.Call.
var (
	baseProcs = []string{
		"TLDFM_get_device_count",
		"TLDFM_get_device_information",
		"TLDFM_get_segment_count",
		"TLDFM_get_tilt_count",
		"TLDFM_set_segment_voltages",
		"TLDFM_get_segment_voltages",
		"TLDFM_set_tilt_voltages",
		"TLDFM_get_tilt_voltages",
		"TLDFM_error_message",
	}
	extProcs = []string{
		"TLDFMX_init",
		"TLDFMX_close",
		"TLDFMX_relax",
		"TLDFMX_calculate_single_zernike_pattern",
	}
)

// Native calls the TLDFM and TLDFMX DLLs
type Native struct {
	base  *windows.LazyDLL
	ext   *windows.LazyDLL
	procs map[string]*windows.LazyProc
}

// OpenNative loads the two driver DLLs from the given paths
func OpenNative(basePath, extPath string) (*Native, error) {
	n := &Native{
		base:  windows.NewLazyDLL(basePath),
		ext:   windows.NewLazyDLL(extPath),
		procs: make(map[string]*windows.LazyProc),
	}
	if err := n.base.Load(); err != nil {
		return nil, pkgerrors.Wrapf(err, "loading base driver %s", basePath)
	}
	if err := n.ext.Load(); err != nil {
		return nil, pkgerrors.Wrapf(err, "loading extended driver %s", extPath)
	}
	for _, name := range baseProcs {
		p := n.base.NewProc(name)
		if err := p.Find(); err != nil {
			return nil, pkgerrors.Wrapf(err, "resolving %s", name)
		}
		n.procs[name] = p
	}
	for _, name := range extProcs {
		p := n.ext.NewProc(name)
		if err := p.Find(); err != nil {
			return nil, pkgerrors.Wrapf(err, "resolving %s", name)
		}
		n.procs[name] = p
	}
	return n, nil
}

// call invokes a procedure and returns its ViStatus
//
//go:uintptrescapes
func (n *Native) call(name string, args ...uintptr) int32 {
	r1, _, _ := n.procs[name].Call(args...)
	return int32(uint32(r1))
}

// errorText asks the base driver to describe a status
func (n *Native) errorText(handle uint32) func(int32) string {
	return func(status int32) string {
		buf := make([]byte, ErrorMessageSize)
		r := n.call("TLDFM_error_message",
			uintptr(handle),
			uintptr(uint32(status)),
			uintptr(unsafe.Pointer(&buf[0])))
		if r != StatusSuccess {
			return ""
		}
		return windows.ByteSliceToString(buf)
	}
}

// check converts a status to an error, logging warnings
func (n *Native) check(handle uint32, fn string, status int32) error {
	if IsWarning(status) {
		logrus.WithFields(logrus.Fields{"call": fn, "status": status}).
			Warn(n.errorText(handle)(status))
	}
	err := statusErr(status, n.errorText(handle))
	if err != nil {
		return pkgerrors.Wrap(err, fn)
	}
	return nil
}

// DeviceCount returns the number of attached mirrors
func (n *Native) DeviceCount() (int, error) {
	var count uint32
	status := n.call("TLDFM_get_device_count", 0, uintptr(unsafe.Pointer(&count)))
	return int(count), n.check(0, "TLDFM_get_device_count", status)
}

// DeviceInfo describes the mirror at idx
func (n *Native) DeviceInfo(idx int) (DeviceInfo, error) {
	var (
		manuf  = make([]byte, BufferSize)
		name   = make([]byte, BufferSize)
		serial = make([]byte, BufferSize)
		rsrc   = make([]byte, BufferSize)
		avail  uint16
	)
	status := n.call("TLDFM_get_device_information",
		0,
		uintptr(uint32(idx)),
		uintptr(unsafe.Pointer(&manuf[0])),
		uintptr(unsafe.Pointer(&name[0])),
		uintptr(unsafe.Pointer(&serial[0])),
		uintptr(unsafe.Pointer(&avail)),
		uintptr(unsafe.Pointer(&rsrc[0])))
	info := DeviceInfo{
		Index:          idx,
		Manufacturer:   windows.ByteSliceToString(manuf),
		InstrumentName: windows.ByteSliceToString(name),
		SerialNumber:   windows.ByteSliceToString(serial),
		Available:      avail != 0,
		Resource:       windows.ByteSliceToString(rsrc),
	}
	return info, n.check(0, "TLDFM_get_device_information", status)
}

// Connect opens an extended driver session on resource
func (n *Native) Connect(resource string, idQuery, reset bool) (Session, error) {
	rsrc, err := windows.BytePtrFromString(resource)
	if err != nil {
		return nil, err
	}
	var handle uint32
	status := n.call("TLDFMX_init",
		uintptr(unsafe.Pointer(rsrc)),
		viBool(idQuery),
		viBool(reset),
		uintptr(unsafe.Pointer(&handle)))
	if err := n.check(0, "TLDFMX_init", status); err != nil {
		return nil, err
	}
	s := &NativeSession{drv: n, handle: handle}
	// geometry is fixed for the session, cache it for buffer checks
	if s.segs, err = s.queryCount("TLDFM_get_segment_count"); err != nil {
		s.Close()
		return nil, err
	}
	if s.tilts, err = s.queryCount("TLDFM_get_tilt_count"); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NativeSession is a session on one mirror through the DLLs
type NativeSession struct {
	sync.Mutex

	drv    *Native
	handle uint32
	closed bool
	segs   int
	tilts  int
}

func (s *NativeSession) queryCount(fn string) (int, error) {
	var count uint32
	status := s.drv.call(fn, uintptr(s.handle), uintptr(unsafe.Pointer(&count)))
	return int(count), s.drv.check(s.handle, fn, status)
}

// SegmentCount returns the number of mirror segments
func (s *NativeSession) SegmentCount() (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.segs, nil
}

// TiltCount returns the number of tilt arms
func (s *NativeSession) TiltCount() (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.tilts, nil
}

// Relax performs one relaxation step
func (s *NativeSession) Relax(part DevicePart, first, reload bool, mirror, arms []float64) (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if err := checkLen(mirror, s.segs, "mirror pattern"); err != nil {
		return 0, err
	}
	if err := checkLen(arms, s.tilts, "arm pattern"); err != nil {
		return 0, err
	}
	var remaining int32
	status := s.drv.call("TLDFMX_relax",
		uintptr(s.handle),
		uintptr(part),
		viBool(first),
		viBool(reload),
		uintptr(floatPtr(mirror)),
		uintptr(floatPtr(arms)),
		uintptr(unsafe.Pointer(&remaining)))
	runtime.KeepAlive(mirror)
	runtime.KeepAlive(arms)
	return int(remaining), s.drv.check(s.handle, "TLDFMX_relax", status)
}

// ZernikePattern computes the segment voltages for flag at amplitude
func (s *NativeSession) ZernikePattern(flag ZernikeFlag, amplitude float64, pattern []float64) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := checkLen(pattern, s.segs, "zernike pattern"); err != nil {
		return err
	}
	// the Windows x64 convention reads the third argument from XMM2 for a
	// double; the runtime loads the first four arguments into both register
	// files, so the bit pattern lands where the callee expects it.
	status := s.drv.call("TLDFMX_calculate_single_zernike_pattern",
		uintptr(s.handle),
		uintptr(flag),
		uintptr(math.Float64bits(amplitude)),
		uintptr(floatPtr(pattern)))
	runtime.KeepAlive(pattern)
	return s.drv.check(s.handle, "TLDFMX_calculate_single_zernike_pattern", status)
}

func (s *NativeSession) voltages(fn string, buf []float64, n int, what string) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := checkLen(buf, n, what); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	status := s.drv.call(fn, uintptr(s.handle), uintptr(floatPtr(buf)))
	runtime.KeepAlive(buf)
	return s.drv.check(s.handle, fn, status)
}

// SetSegmentVoltages applies one voltage per segment
func (s *NativeSession) SetSegmentVoltages(v []float64) error {
	return s.voltages("TLDFM_set_segment_voltages", v, s.segs, "segment voltages")
}

// SetTiltVoltages applies one voltage per tilt arm
func (s *NativeSession) SetTiltVoltages(v []float64) error {
	return s.voltages("TLDFM_set_tilt_voltages", v, s.tilts, "tilt voltages")
}

// SegmentVoltages reads back the segment voltages
func (s *NativeSession) SegmentVoltages(v []float64) error {
	return s.voltages("TLDFM_get_segment_voltages", v, s.segs, "segment voltages")
}

// TiltVoltages reads back the tilt arm voltages
func (s *NativeSession) TiltVoltages(v []float64) error {
	return s.voltages("TLDFM_get_tilt_voltages", v, s.tilts, "tilt voltages")
}

// Close ends the extended driver session
func (s *NativeSession) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	status := s.drv.call("TLDFMX_close", uintptr(s.handle))
	return s.drv.check(s.handle, "TLDFMX_close", status)
}

func viBool(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}

// floatPtr returns the address of the first element, or nil for an empty slice
func floatPtr(b []float64) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

var (
	_ Driver  = (*Native)(nil)
	_ Session = (*NativeSession)(nil)
)
