package dmp40

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

// Reporter is told about the progress of the sequence
type Reporter interface {
	DevicesFound(n int)
	Connected(info dfm.DeviceInfo)
	Geometry(g Geometry)
	RelaxStarted()
	RelaxStep(step, remaining int)
	RelaxComplete(steps int)
	RelaxFailed(err error)
	Voltages(label string, segments []float64)
	PatternApplied(flag dfm.ZernikeFlag, amplitude float64)
	Closed(err error)
}

// TextReporter prints human readable progress lines
type TextReporter struct {
	W io.Writer
}

// NewTextReporter returns a TextReporter writing to w
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{W: w}
}

var bold = color.New(color.Bold)

func (t *TextReporter) DevicesFound(n int) {
	if n < 1 {
		color.New(color.FgRed).Fprintln(t.W, "No DMP40 device found.")
		return
	}
	fmt.Fprintf(t.W, "%d DMP40 device(s) found.\n\n", n)
}

func (t *TextReporter) Connected(info dfm.DeviceInfo) {
	fmt.Fprintf(t.W, "Connected to %s %s (serial %s) at %s\n\n",
		info.Manufacturer, info.InstrumentName, info.SerialNumber, info.Resource)
}

func (t *TextReporter) Geometry(g Geometry) {
	fmt.Fprintln(t.W, "Segment count:", g.Segments)
	fmt.Fprintln(t.W, "Tilt count:", g.Tilts)
	fmt.Fprintln(t.W)
}

func (t *TextReporter) RelaxStarted() {
	bold.Fprintln(t.W, "Relaxing the DMP40.")
	fmt.Fprintln(t.W)
}

func (t *TextReporter) RelaxStep(step, remaining int) {
	fmt.Fprintf(t.W, "Relax step: %d (%d remaining)\n", step, remaining)
}

func (t *TextReporter) RelaxComplete(steps int) {
	fmt.Fprintln(t.W)
	color.New(color.Bold, color.FgGreen).Fprintf(t.W, "Relaxing complete after %d steps.\n", steps)
	fmt.Fprintln(t.W)
}

func (t *TextReporter) RelaxFailed(err error) {
	color.New(color.Bold, color.FgRed).Fprintf(t.W, "Relaxing failed: %v\n", err)
}

func (t *TextReporter) Voltages(label string, segments []float64) {
	bold.Fprintf(t.W, "Segment voltages, %s:\n", label)
	for i, v := range segments {
		fmt.Fprintf(t.W, "Segment voltage in segment %d [V]: %g\n", i+1, v)
	}
	fmt.Fprintln(t.W)
}

func (t *TextReporter) PatternApplied(flag dfm.ZernikeFlag, amplitude float64) {
	fmt.Fprintf(t.W, "Example pattern is set (zernike flag %#x, amplitude %g).\n\n", uint32(flag), amplitude)
}

func (t *TextReporter) Closed(err error) {
	if err != nil {
		color.New(color.FgRed).Fprintf(t.W, "Error closing connection: %v\n", err)
		return
	}
	fmt.Fprintln(t.W, "Connection closed. Program finished.")
}

// SpinnerReporter shows the relax loop as a single spinner line and prints
// everything else like a TextReporter
type SpinnerReporter struct {
	*TextReporter

	spinner *yacspin.Spinner
}

// NewSpinnerReporter returns a SpinnerReporter writing to w
func NewSpinnerReporter(w io.Writer) (*SpinnerReporter, error) {
	cfg := yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " relaxing",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	sp, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return &SpinnerReporter{TextReporter: NewTextReporter(w), spinner: sp}, nil
}

func (s *SpinnerReporter) RelaxStarted() {
	s.spinner.Message("first step")
	if err := s.spinner.Start(); err != nil {
		logrus.WithError(err).Debug("starting spinner")
	}
}

func (s *SpinnerReporter) RelaxStep(step, remaining int) {
	s.spinner.Message(fmt.Sprintf("step %d, %d remaining", step, remaining))
}

func (s *SpinnerReporter) RelaxComplete(steps int) {
	s.spinner.StopMessage(fmt.Sprintf("complete after %d steps", steps))
	if err := s.spinner.Stop(); err != nil {
		logrus.WithError(err).Debug("stopping spinner")
	}
	fmt.Fprintln(s.W)
}

func (s *SpinnerReporter) RelaxFailed(err error) {
	s.spinner.StopFailMessage(err.Error())
	if err := s.spinner.StopFail(); err != nil {
		logrus.WithError(err).Debug("stopping spinner")
	}
}

// LogReporter sends progress to logrus, for use where nobody watches a console
type LogReporter struct {
	Entry *logrus.Entry
}

// NewLogReporter returns a LogReporter on the standard logger
func NewLogReporter() LogReporter {
	return LogReporter{Entry: logrus.NewEntry(logrus.StandardLogger())}
}

func (l LogReporter) DevicesFound(n int) { l.Entry.WithField("count", n).Info("devices found") }

func (l LogReporter) Connected(info dfm.DeviceInfo) {
	l.Entry.WithFields(logrus.Fields{"resource": info.Resource, "serial": info.SerialNumber}).Info("connected")
}

func (l LogReporter) Geometry(g Geometry) {
	l.Entry.WithFields(logrus.Fields{"segments": g.Segments, "tilts": g.Tilts}).Info("geometry")
}

func (l LogReporter) RelaxStarted() { l.Entry.Info("relaxing") }

func (l LogReporter) RelaxStep(step, remaining int) {
	l.Entry.WithFields(logrus.Fields{"step": step, "remaining": remaining}).Debug("relax step")
}

func (l LogReporter) RelaxComplete(steps int) {
	l.Entry.WithField("steps", steps).Info("relax complete")
}

func (l LogReporter) RelaxFailed(err error) { l.Entry.WithError(err).Error("relax failed") }

func (l LogReporter) Voltages(label string, segments []float64) {
	l.Entry.WithField("segments", segments).Debug(label)
}

func (l LogReporter) PatternApplied(flag dfm.ZernikeFlag, amplitude float64) {
	l.Entry.WithFields(logrus.Fields{"flag": uint32(flag), "amplitude": amplitude}).Info("pattern applied")
}

func (l LogReporter) Closed(err error) {
	if err != nil {
		l.Entry.WithError(err).Error("closing session")
		return
	}
	l.Entry.Info("session closed")
}

var (
	_ Reporter = (*TextReporter)(nil)
	_ Reporter = (*SpinnerReporter)(nil)
	_ Reporter = LogReporter{}
)
