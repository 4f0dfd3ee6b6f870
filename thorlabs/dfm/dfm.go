/*
Package dfm provides control of Thorlabs DMP40 / DMH40 deformable mirrors.

The mirrors are reached through two vendor drivers.  TLDFM is the base driver
with device discovery, geometry queries and the voltage setters.  TLDFMX is the
extended driver, which owns the session and computes relaxation and Zernike
patterns.  Both are hidden behind the Driver and Session interfaces so the
orchestration code can run against the native libraries or the Mock.

Basic usage:

	drv, err := dfm.OpenNative(dfm.DefaultBasePath, dfm.DefaultExtendedPath)
	if err != nil {
		log.Fatal(err)
	}
	info, err := drv.DeviceInfo(0)
	if err != nil {
		log.Fatal(err)
	}
	sess, err := drv.Connect(info.Resource, true, false)
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()
*/
package dfm

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultBasePath is the install location of the 64-bit TLDFM driver
	DefaultBasePath = `C:\Program Files\IVI Foundation\VISA\Win64\Bin\TLDFM_64.dll`

	// DefaultExtendedPath is the install location of the 64-bit TLDFMX driver
	DefaultExtendedPath = `C:\Program Files\IVI Foundation\VISA\Win64\Bin\TLDFMX_64.dll`

	// BufferSize is the size of the string buffers the drivers fill
	BufferSize = 256

	// ErrorMessageSize is the size of the buffer TLDFM_error_message fills
	ErrorMessageSize = 512

	// DMP40Segments is the number of mirror segments on a DMP40
	DMP40Segments = 40

	// DMP40Tilts is the number of bimorph tilt arms on a DMP40
	DMP40Tilts = 3
)

// DevicePart selects which actuators a relax step drives
type DevicePart uint32

const (
	// PartMirror relaxes only the mirror segments
	PartMirror DevicePart = iota

	// PartArms relaxes only the tilt arms
	PartArms

	// PartBoth relaxes segments and tilt arms
	PartBoth
)

var partNames = map[DevicePart]string{
	PartMirror: "mirror",
	PartArms:   "arms",
	PartBoth:   "both",
}

func (p DevicePart) String() string {
	if s, ok := partNames[p]; ok {
		return s
	}
	return fmt.Sprintf("DevicePart(%d)", uint32(p))
}

// ParseDevicePart converts mirror, arms, or both into a DevicePart
func ParseDevicePart(s string) (DevicePart, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, v := range partNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("device part %q not understood, must be one of mirror, arms, both", s)
}

// ZernikeFlag is a bit set of Zernike modes as understood by TLDFMX.
// The order of the bits follows the driver header, Z4 through Z15.
type ZernikeFlag uint32

const (
	Ast45 ZernikeFlag = 1 << iota
	Defocus
	Ast0
	TrefoilY
	ComaX
	ComaY
	TrefoilX
	TetrafoilY
	SecAstY
	SphericalAb3
	SecAstX
	TetrafoilX

	// AllZernikes has every supported mode set
	AllZernikes ZernikeFlag = 0xFFF
)

// Modes splits the flag into its individual modes, lowest bit first
func (z ZernikeFlag) Modes() []ZernikeFlag {
	var out []ZernikeFlag
	for bit := Ast45; bit <= TetrafoilX; bit <<= 1 {
		if z&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

// DeviceInfo is what TLDFM_get_device_information reports for one device
type DeviceInfo struct {
	Index          int    `json:"index"`
	Manufacturer   string `json:"manufacturer"`
	InstrumentName string `json:"instrumentName"`
	SerialNumber   string `json:"serialNumber"`
	Available      bool   `json:"available"`
	Resource       string `json:"resource"`
}

// Driver is the device discovery and connection half of the vendor library
type Driver interface {
	// DeviceCount returns the number of mirrors attached to the system
	DeviceCount() (int, error)

	// DeviceInfo describes the device at a zero-based index
	DeviceInfo(int) (DeviceInfo, error)

	// Connect opens an extended-driver session on a resource.
	// idQuery asks the driver to verify the instrument identity,
	// reset asks it to reset the device on open.
	Connect(resource string, idQuery, reset bool) (Session, error)
}

// Session is an open connection to a single mirror
type Session interface {
	// SegmentCount returns the number of mirror segments
	SegmentCount() (int, error)

	// TiltCount returns the number of tilt arms
	TiltCount() (int, error)

	// Relax performs one relaxation step, filling mirror and arms with the
	// voltages to apply.  It returns the number of steps remaining.
	Relax(part DevicePart, first, reload bool, mirror, arms []float64) (int, error)

	// ZernikePattern fills pattern with the segment voltages for the
	// given modes at amplitude
	ZernikePattern(flag ZernikeFlag, amplitude float64, pattern []float64) error

	// SetSegmentVoltages applies one voltage per segment
	SetSegmentVoltages([]float64) error

	// SetTiltVoltages applies one voltage per tilt arm
	SetTiltVoltages([]float64) error

	// SegmentVoltages reads back the voltages last applied to the segments
	SegmentVoltages([]float64) error

	// TiltVoltages reads back the voltages last applied to the tilt arms
	TiltVoltages([]float64) error

	// Close ends the session; the session is unusable afterwards
	Close() error
}

var (
	// ErrClosed is generated when a session is used after Close
	ErrClosed = errors.New("dfm: session is closed")

	// ErrBufferSize is generated when a voltage buffer does not match the device geometry
	ErrBufferSize = errors.New("dfm: buffer length does not match device geometry")

	// ErrUnsupportedPlatform is generated when the native drivers cannot be used on this OS/arch
	ErrUnsupportedPlatform = errors.New("dfm: native TLDFM drivers are only available on windows/amd64, use the mock")

	// ErrNoSuchDevice is generated when a device index is out of range
	ErrNoSuchDevice = errors.New("dfm: no device at that index")
)

// VISA status codes the drivers share with the rest of the IVI stack
const (
	StatusSuccess          int32 = 0
	StatusInvalidObject    int32 = -1073807346 // 0xBFFF000E
	StatusResourceNotFound int32 = -1073807343 // 0xBFFF0011
	StatusResourceLocked   int32 = -1073807345 // 0xBFFF000F
	StatusTimeout          int32 = -1073807339 // 0xBFFF0015
	StatusNotSupported     int32 = -1073807257 // 0xBFFF0067
	StatusParameter1       int32 = -1074003967 // 0xBFFC0001
	StatusParameter2       int32 = -1074003966
	StatusParameter3       int32 = -1074003965
	StatusParameter4       int32 = -1074003964
)

var (
	// VISAErrors maps status codes to strings, used when the driver cannot be asked
	VISAErrors = map[int32]string{
		StatusInvalidObject:    "INVALID SESSION OR OBJECT REFERENCE",
		StatusResourceNotFound: "INSUFFICIENT LOCATION INFORMATION OR RESOURCE NOT PRESENT",
		StatusResourceLocked:   "RESOURCE IS LOCKED BY ANOTHER SESSION",
		StatusTimeout:          "TIMEOUT EXPIRED BEFORE OPERATION COMPLETED",
		StatusNotSupported:     "OPERATION NOT SUPPORTED BY THIS RESOURCE",
		StatusParameter1:       "PARAMETER 1 OUT OF RANGE",
		StatusParameter2:       "PARAMETER 2 OUT OF RANGE",
		StatusParameter3:       "PARAMETER 3 OUT OF RANGE",
		StatusParameter4:       "PARAMETER 4 OUT OF RANGE",
	}
)

// Error is a formattable ViStatus from the drivers
type Error struct {
	Code int32
	Text string
}

// Error satisfies stdlib error interface
func (e Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%d - %s", e.Code, e.Text)
	}
	if s, ok := VISAErrors[e.Code]; ok {
		return fmt.Sprintf("%d - %s", e.Code, s)
	}
	return fmt.Sprintf("%d - UNKNOWN ERROR CODE", e.Code)
}

// IsWarning returns true for positive status codes, which the drivers use
// for completion codes that are not failures
func IsWarning(status int32) bool {
	return status > 0
}

// statusErr converts a status to a Go error.  Success and warnings are nil.
func statusErr(status int32, text func(int32) string) error {
	if status >= 0 {
		return nil
	}
	e := Error{Code: status}
	if text != nil {
		e.Text = text(status)
	}
	return e
}

func checkLen(buf []float64, n int, what string) error {
	if len(buf) != n {
		return fmt.Errorf("%w: %s has %d elements, device has %d", ErrBufferSize, what, len(buf), n)
	}
	return nil
}
