package dmp40

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/nasa-jpl/golab-dmp40/server"
	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

// HTTPWrapper wraps a connected mirror in an HTTP control interface
type HTTPWrapper struct {
	Sess dfm.Session
	Info dfm.DeviceInfo
	Geom Geometry

	// Opts are the defaults for relax requests
	Opts Options

	server.RouteTable

	// one operation on the mirror at a time; a relax in progress must not
	// interleave with voltage writes
	mu *sync.Mutex
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-populated
func NewHTTPWrapper(sess dfm.Session, info dfm.DeviceInfo, g Geometry, opts Options) HTTPWrapper {
	w := HTTPWrapper{Sess: sess, Info: info, Geom: g, Opts: opts, mu: &sync.Mutex{}}
	w.RouteTable = server.RouteTable{
		{Method: http.MethodGet, Path: "/device"}:            w.Device,
		{Method: http.MethodGet, Path: "/geometry"}:          w.Geometry,
		{Method: http.MethodGet, Path: "/segment-voltages"}:  w.GetSegmentVoltages,
		{Method: http.MethodPost, Path: "/segment-voltages"}: w.SetSegmentVoltages,
		{Method: http.MethodGet, Path: "/tilt-voltages"}:     w.GetTiltVoltages,
		{Method: http.MethodPost, Path: "/tilt-voltages"}:    w.SetTiltVoltages,
		{Method: http.MethodPost, Path: "/relax"}:            w.Relax,
		{Method: http.MethodPost, Path: "/zernike"}:          w.Zernike,
		{Method: http.MethodGet, Path: "/voltages.fits"}:     w.Fits,
	}
	return w
}

// jsonarray is used to decode array commands over JSON.
// this is very inefficient encoding and not suitable for high speed operation,
// but offers simplicity when speed is not paramount
type jsonarray struct {
	Value []float64 `json:"value"`
}

type relaxRequest struct {
	Part string `json:"part"`
}

type relaxReply struct {
	Steps int `json:"steps"`
}

type zernikeRequest struct {
	Flag      uint32  `json:"flag"`
	Amplitude float64 `json:"amplitude"`
}

// Device returns the device information as JSON
func (h HTTPWrapper) Device(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.Info)
}

// Geometry returns the segment and tilt counts as JSON
func (h HTTPWrapper) Geometry(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.Geom)
}

func (h HTTPWrapper) getVoltages(w http.ResponseWriter, n int, get func([]float64) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]float64, n)
	if n > 0 {
		if err := get(buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	server.ReplyJSON(w, jsonarray{Value: buf})
}

func (h HTTPWrapper) setVoltages(w http.ResponseWriter, r *http.Request, n int, set func([]float64) error) {
	ja := jsonarray{}
	err := json.NewDecoder(r.Body).Decode(&ja)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(ja.Value) != n {
		server.BadRequest(w, "expected %d values, got %d", n, len(ja.Value))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err = set(ja.Value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetSegmentVoltages returns the applied segment voltages as {"value": [...]}
func (h HTTPWrapper) GetSegmentVoltages(w http.ResponseWriter, r *http.Request) {
	h.getVoltages(w, h.Geom.Segments, h.Sess.SegmentVoltages)
}

// SetSegmentVoltages applies {"value": [...]} to the segments
func (h HTTPWrapper) SetSegmentVoltages(w http.ResponseWriter, r *http.Request) {
	h.setVoltages(w, r, h.Geom.Segments, h.Sess.SetSegmentVoltages)
}

// GetTiltVoltages returns the applied tilt arm voltages as {"value": [...]}
func (h HTTPWrapper) GetTiltVoltages(w http.ResponseWriter, r *http.Request) {
	h.getVoltages(w, h.Geom.Tilts, h.Sess.TiltVoltages)
}

// SetTiltVoltages applies {"value": [...]} to the tilt arms
func (h HTTPWrapper) SetTiltVoltages(w http.ResponseWriter, r *http.Request) {
	h.setVoltages(w, r, h.Geom.Tilts, h.Sess.SetTiltVoltages)
}

// Relax runs the relax loop to completion.  The body may select the part
// with {"part": "mirror"}; an empty body uses the configured part.
func (h HTTPWrapper) Relax(w http.ResponseWriter, r *http.Request) {
	opts := h.Opts
	if r.ContentLength != 0 {
		req := relaxRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Part != "" {
			if _, err := dfm.ParseDevicePart(req.Part); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			opts.Part = req.Part
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	steps, err := Relax(r.Context(), h.Sess, NewBuffers(h.Geom), opts, NewLogReporter())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.ReplyJSON(w, relaxReply{Steps: steps})
}

// Zernike applies a single Zernike pattern from {"flag": 4, "amplitude": 0.5}
// and returns the applied segment voltages
func (h HTTPWrapper) Zernike(w http.ResponseWriter, r *http.Request) {
	req := zernikeRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flag := dfm.ZernikeFlag(req.Flag)
	if flag == 0 || flag&^dfm.AllZernikes != 0 {
		server.BadRequest(w, "zernike flag %#x has no valid modes", req.Flag)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pattern, err := ApplyZernike(h.Sess, h.Geom, flag, req.Amplitude)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.ReplyJSON(w, jsonarray{Value: pattern})
}

// Fits returns the applied voltages as a FITS file
func (h HTTPWrapper) Fits(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	bufs, err := ReadBack(h.Sess, h.Geom)
	h.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", "attachment; filename=voltages.fits")
	err = dfm.WriteFits(w, dfm.FitsCards(h.Info), bufs.Segments, bufs.Tilts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
