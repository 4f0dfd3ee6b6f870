/*
Package dmp40 runs the bring-up sequence of a Thorlabs DMP40 deformable mirror:
discover, connect, query geometry, relax, apply a Zernike pattern, close.

Each step is exported so that servers and tests can run them piecemeal; Run
strings them together the way an operator would at the bench.
*/
package dmp40

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

var (
	// ErrNoDevice is generated when discovery finds no mirrors
	ErrNoDevice = errors.New("no DMP40 device found")

	// ErrRelaxDidNotConverge is generated when relaxation runs past MaxRelaxSteps
	ErrRelaxDidNotConverge = errors.New("relaxation did not reach zero remaining steps")
)

// Options control the sequence.  The zero value is not useful, start from
// DefaultOptions.
type Options struct {
	// DeviceIndex selects which discovered device to connect to
	DeviceIndex int `koanf:"device_index" yaml:"device_index"`

	// IDQuery asks the driver to verify the identity of the instrument on init
	IDQuery bool `koanf:"id_query" yaml:"id_query"`

	// Reset asks the driver to reset the device on init
	Reset bool `koanf:"reset" yaml:"reset"`

	// ConnectTimeout is how long to keep retrying init.  0 tries once.
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`

	// Part is which actuators to relax; mirror, arms, or both
	Part string `koanf:"part" yaml:"part"`

	// Reload is passed through to the driver's relax call
	Reload bool `koanf:"reload" yaml:"reload"`

	// MaxRelaxSteps bounds the relax loop.  0 is unbounded.
	MaxRelaxSteps int `koanf:"max_relax_steps" yaml:"max_relax_steps"`

	// RelaxRate caps relax steps per second.  0 is as fast as the driver goes.
	RelaxRate float64 `koanf:"relax_rate" yaml:"relax_rate"`

	// ZernikeFlag is the TLDFMX mode flag for the example pattern
	ZernikeFlag uint32 `koanf:"zernike_flag" yaml:"zernike_flag"`

	// ZernikeAmplitude is the amplitude of the example pattern
	ZernikeAmplitude float64 `koanf:"zernike_amplitude" yaml:"zernike_amplitude"`

	// ObserverDelay is how long to pause so the console can be read
	ObserverDelay time.Duration `koanf:"observer_delay" yaml:"observer_delay"`

	// PatternFile, if not empty, is where the final voltages are written as FITS
	PatternFile string `koanf:"pattern_file" yaml:"pattern_file"`
}

// DefaultOptions returns a flat pattern on the first device after a bounded
// relax loop, with a short connect retry
func DefaultOptions() Options {
	return Options{
		IDQuery:        true,
		ConnectTimeout: 3 * time.Second,
		Part:           dfm.PartBoth.String(),
		MaxRelaxSteps:  1000,
		ZernikeFlag:    2,
		ObserverDelay:  time.Second,
	}
}

// Geometry is the actuator count of a mirror
type Geometry struct {
	Segments int `json:"segments"`
	Tilts    int `json:"tilts"`
}

// Buffers hold one voltage per actuator
type Buffers struct {
	Segments []float64
	Tilts    []float64
}

// NewBuffers allocates buffers sized to g
func NewBuffers(g Geometry) Buffers {
	return Buffers{
		Segments: make([]float64, g.Segments),
		Tilts:    make([]float64, g.Tilts),
	}
}

// Discover returns the number of attached mirrors, or ErrNoDevice if there are none
func Discover(drv dfm.Driver) (int, error) {
	n, err := drv.DeviceCount()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "counting devices")
	}
	if n < 1 {
		return n, ErrNoDevice
	}
	return n, nil
}

// Connect resolves the resource of device opts.DeviceIndex and opens a session
// on it, retrying with exponential backoff for up to opts.ConnectTimeout
func Connect(ctx context.Context, drv dfm.Driver, opts Options) (dfm.Session, dfm.DeviceInfo, error) {
	info, err := drv.DeviceInfo(opts.DeviceIndex)
	if err != nil {
		return nil, info, pkgerrors.Wrapf(err, "getting information for device %d", opts.DeviceIndex)
	}
	var sess dfm.Session
	op := func() error {
		s, err := drv.Connect(info.Resource, opts.IDQuery, opts.Reset)
		if err != nil {
			logrus.WithError(err).WithField("resource", info.Resource).Debug("init attempt failed")
			return err
		}
		sess = s
		return nil
	}
	if opts.ConnectTimeout <= 0 {
		err = op()
	} else {
		err = backoff.Retry(op, backoff.WithContext(&backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      opts.ConnectTimeout,
			Clock:               backoff.SystemClock}, ctx))
	}
	if err != nil {
		return nil, info, pkgerrors.Wrapf(err, "initializing %s", info.Resource)
	}
	return sess, info, nil
}

// QueryGeometry reads the segment and tilt arm counts
func QueryGeometry(sess dfm.Session) (Geometry, error) {
	var (
		g   Geometry
		err error
	)
	g.Segments, err = sess.SegmentCount()
	if err != nil {
		return g, pkgerrors.Wrap(err, "getting segment count")
	}
	g.Tilts, err = sess.TiltCount()
	if err != nil {
		return g, pkgerrors.Wrap(err, "getting tilt count")
	}
	return g, nil
}

// Push applies both buffers to the hardware, segments first.  Mirrors
// without tilt arms skip the tilt call.
func Push(sess dfm.Session, bufs Buffers) error {
	if err := sess.SetSegmentVoltages(bufs.Segments); err != nil {
		return pkgerrors.Wrap(err, "setting segment voltages")
	}
	if len(bufs.Tilts) == 0 {
		return nil
	}
	if err := sess.SetTiltVoltages(bufs.Tilts); err != nil {
		return pkgerrors.Wrap(err, "setting tilt voltages")
	}
	return nil
}

// Relax calls the driver's relax until it reports no remaining steps,
// pushing the buffers to the hardware after every call.  Only the first call
// is flagged as the first step.  It returns the number of steps taken.
func Relax(ctx context.Context, sess dfm.Session, bufs Buffers, opts Options, rep Reporter) (int, error) {
	part, err := dfm.ParseDevicePart(opts.Part)
	if err != nil {
		return 0, err
	}
	var lim *rate.Limiter
	if opts.RelaxRate > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RelaxRate), 1)
	}
	rep.RelaxStarted()
	first := true
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			rep.RelaxFailed(err)
			return step - 1, err
		}
		if opts.MaxRelaxSteps > 0 && step > opts.MaxRelaxSteps {
			rep.RelaxFailed(ErrRelaxDidNotConverge)
			return step - 1, ErrRelaxDidNotConverge
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				rep.RelaxFailed(err)
				return step - 1, err
			}
		}
		remaining, err := sess.Relax(part, first, opts.Reload, bufs.Segments, bufs.Tilts)
		if err != nil {
			err = pkgerrors.Wrapf(err, "relax step %d", step)
			rep.RelaxFailed(err)
			return step - 1, err
		}
		first = false
		if err := Push(sess, bufs); err != nil {
			err = pkgerrors.Wrapf(err, "relax step %d", step)
			rep.RelaxFailed(err)
			return step, err
		}
		rep.RelaxStep(step, remaining)
		if remaining <= 0 {
			rep.RelaxComplete(step)
			return step, nil
		}
	}
}

// ApplyZernike computes the pattern for flag at amplitude and applies it to
// the segments.  The pattern is returned.
func ApplyZernike(sess dfm.Session, g Geometry, flag dfm.ZernikeFlag, amplitude float64) ([]float64, error) {
	pattern := make([]float64, g.Segments)
	err := sess.ZernikePattern(flag, amplitude, pattern)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "computing zernike pattern %#x at %g", uint32(flag), amplitude)
	}
	err = sess.SetSegmentVoltages(pattern)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "setting zernike pattern")
	}
	return pattern, nil
}

// ReadBack returns the voltages currently applied to the mirror
func ReadBack(sess dfm.Session, g Geometry) (Buffers, error) {
	bufs := NewBuffers(g)
	if err := sess.SegmentVoltages(bufs.Segments); err != nil {
		return bufs, pkgerrors.Wrap(err, "reading segment voltages")
	}
	if g.Tilts == 0 {
		return bufs, nil
	}
	if err := sess.TiltVoltages(bufs.Tilts); err != nil {
		return bufs, pkgerrors.Wrap(err, "reading tilt voltages")
	}
	return bufs, nil
}

// Run performs the whole sequence.  Once a session is open it is closed
// exactly once, whether or not a later step fails.
func Run(ctx context.Context, drv dfm.Driver, opts Options, rep Reporter) (err error) {
	n, err := Discover(drv)
	if err == nil || errors.Is(err, ErrNoDevice) {
		rep.DevicesFound(n)
	}
	if err != nil {
		return err
	}

	sess, info, err := Connect(ctx, drv, opts)
	if err != nil {
		return err
	}
	rep.Connected(info)
	defer func() {
		cerr := sess.Close()
		rep.Closed(cerr)
		if cerr != nil && err == nil {
			err = pkgerrors.Wrap(cerr, "closing session")
		}
	}()

	g, err := QueryGeometry(sess)
	if err != nil {
		return err
	}
	rep.Geometry(g)

	bufs := NewBuffers(g)
	if _, err = Relax(ctx, sess, bufs, opts, rep); err != nil {
		return err
	}
	if err = pause(ctx, opts.ObserverDelay); err != nil {
		return err
	}

	relaxed, err := ReadBack(sess, g)
	if err != nil {
		return err
	}
	rep.Voltages("after relaxing", relaxed.Segments)
	if err = pause(ctx, opts.ObserverDelay); err != nil {
		return err
	}

	flag := dfm.ZernikeFlag(opts.ZernikeFlag)
	pattern, err := ApplyZernike(sess, g, flag, opts.ZernikeAmplitude)
	if err != nil {
		return err
	}
	rep.PatternApplied(flag, opts.ZernikeAmplitude)
	rep.Voltages("example pattern", pattern)

	if opts.PatternFile != "" {
		final, err := ReadBack(sess, g)
		if err != nil {
			return err
		}
		if err = writePatternFile(opts.PatternFile, info, final); err != nil {
			return err
		}
		logrus.WithField("file", opts.PatternFile).Info("wrote voltages")
	}
	return nil
}

func writePatternFile(name string, info dfm.DeviceInfo, bufs Buffers) error {
	f, err := os.Create(name)
	if err != nil {
		return pkgerrors.Wrapf(err, "creating %s", name)
	}
	defer f.Close()
	err = dfm.WriteFits(f, dfm.FitsCards(info), bufs.Segments, bufs.Tilts)
	if err != nil {
		return pkgerrors.Wrapf(err, "writing %s", name)
	}
	return f.Close()
}

// pause sleeps for d or until ctx is done
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
