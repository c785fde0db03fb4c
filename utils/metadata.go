package utils

import (
	"io"
	"strings"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/calebmc/geosnap/models"
)

// CameraInfo holds the optional non-GPS metadata attached to a record.
type CameraInfo struct {
	CameraMake  *string
	CameraModel *string
	TakenAt     *int64
}

// gpsTags is the raw GPS tag set pulled from EXIF before conversion. Each of
// the four tags tracks its own presence; conversion requires all four.
type gpsTags struct {
	Lat      [3]float64
	LatOK    bool
	LatRef   string
	LatRefOK bool
	Lon      [3]float64
	LonOK    bool
	LonRef   string
	LonRefOK bool
}

// ConvertDMS converts a degrees/minutes/seconds triple to signed decimal
// degrees. A "S" or "W" hemisphere reference negates the result; "N" and "E"
// never do.
func ConvertDMS(degrees, minutes, seconds float64, ref string) float64 {
	dd := degrees + minutes/60.0 + seconds/3600.0
	switch strings.ToUpper(strings.TrimSpace(ref)) {
	case "S", "W":
		return -dd
	}
	return dd
}

// coordsFromTags converts the raw tag set to decimal coordinates. Any missing
// tag, or a result outside the valid latitude/longitude ranges, yields nil.
func coordsFromTags(t gpsTags) *models.Coordinates {
	if !t.LatOK || !t.LatRefOK || !t.LonOK || !t.LonRefOK {
		return nil
	}
	lat := ConvertDMS(t.Lat[0], t.Lat[1], t.Lat[2], t.LatRef)
	lon := ConvertDMS(t.Lon[0], t.Lon[1], t.Lon[2], t.LonRef)
	if lat < -90.0 || lat > 90.0 || lon < -180.0 || lon > 180.0 {
		return nil
	}
	return &models.Coordinates{Latitude: lat, Longitude: lon}
}

// helper to safely read a three-component rational tag (GPSLatitude/Longitude)
func getTriple(exifData *exif.Exif, tagName exif.FieldName) ([3]float64, bool) {
	var triple [3]float64
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return triple, false
	}
	for i := 0; i < 3; i++ {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return triple, false
		}
		triple[i] = float64(num) / float64(den)
	}
	return triple, true
}

// helper to safely read a hemisphere reference tag ("N"/"S"/"E"/"W")
func getRef(exifData *exif.Exif, tagName exif.FieldName) (string, bool) {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return "", false
	}
	val, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	val = strings.TrimRight(strings.TrimSpace(val), "\x00")
	if val == "" {
		return "", false
	}
	return val, true
}

// helper to safely get a string tag, trimming null terminators
func getString(exifData *exif.Exif, tagName exif.FieldName) *string {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val := strings.TrimRight(tag.String(), "\x00")
	val = strings.Trim(val, "\"")
	if val == "" {
		return nil
	}
	return &val
}

// ExtractCoordinates reads GPS metadata from an image stream and converts it
// to decimal degrees. It never fails: files without EXIF data, without the
// full set of four GPS tags, or with malformed tags all yield nil, since many
// cameras and devices simply omit GPS.
func ExtractCoordinates(r io.Reader) *models.Coordinates {
	exifData, err := exif.Decode(r)
	if err != nil {
		return nil
	}

	var tags gpsTags
	tags.Lat, tags.LatOK = getTriple(exifData, exif.GPSLatitude)
	tags.LatRef, tags.LatRefOK = getRef(exifData, exif.GPSLatitudeRef)
	tags.Lon, tags.LonOK = getTriple(exifData, exif.GPSLongitude)
	tags.LonRef, tags.LonRefOK = getRef(exifData, exif.GPSLongitudeRef)

	return coordsFromTags(tags)
}

// ExtractCameraInfo pulls camera make/model and the capture timestamp, when
// present. Like ExtractCoordinates it treats missing data as normal.
func ExtractCameraInfo(r io.Reader) CameraInfo {
	var info CameraInfo
	exifData, err := exif.Decode(r)
	if err != nil {
		return info
	}

	info.CameraMake = getString(exifData, exif.Make)
	info.CameraModel = getString(exifData, exif.Model)

	dt, err := exifData.DateTime()
	if err == nil {
		ts := dt.Unix()
		info.TakenAt = &ts
	}
	return info
}
