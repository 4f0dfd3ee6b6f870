package dfm

import (
	"errors"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a fits file to w.  The primary HDU holds the segment
// voltages, an image extension named TILTS holds the tilt arm voltages when
// the device has any.
func WriteFits(w io.Writer, metadata []fitsio.Card, segments, tilts []float64) error {
	if len(segments) == 0 {
		return errors.New("dfm: no segment voltages to write")
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	prim := fitsio.NewImage(-64, []int{len(segments)})
	defer prim.Close()
	cards := append([]fitsio.Card{{Name: "BUNIT", Value: "V", Comment: "segment voltage"}}, metadata...)
	err = prim.Header().Append(cards...)
	if err != nil {
		return err
	}
	err = prim.Write(segments)
	if err != nil {
		return err
	}
	err = fits.Write(prim)
	if err != nil {
		return err
	}
	if len(tilts) == 0 {
		return nil
	}

	ext := fitsio.NewImage(-64, []int{len(tilts)})
	defer ext.Close()
	err = ext.Header().Append(
		fitsio.Card{Name: "EXTNAME", Value: "TILTS"},
		fitsio.Card{Name: "BUNIT", Value: "V", Comment: "tilt arm voltage"})
	if err != nil {
		return err
	}
	err = ext.Write(tilts)
	if err != nil {
		return err
	}
	return fits.Write(ext)
}

// FitsCards describes a device as header cards
func FitsCards(info DeviceInfo) []fitsio.Card {
	return []fitsio.Card{
		{Name: "INSTRUME", Value: info.InstrumentName},
		{Name: "SERIALNO", Value: info.SerialNumber},
		{Name: "MANUFACT", Value: info.Manufacturer},
	}
}
