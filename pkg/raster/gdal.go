package raster

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type gdalMetadata struct {
	XMLName xml.Name   `xml:"GDALMetadata"`
	Items   []gdalItem `xml:"Item"`
}

type gdalItem struct {
	Name   string `xml:"name,attr"`
	Sample string `xml:"sample,attr,omitempty"`
	Role   string `xml:"role,attr,omitempty"`
	Value  string `xml:",chardata"`
}

// encodeGDALMetadata writes band descriptions and scale/offset in the XML
// dialect GDAL stores in tag 42112
func encodeGDALMetadata(bands []*Band) (string, error) {
	var md gdalMetadata
	for i, b := range bands {
		sample := strconv.Itoa(i)
		if b.Name != "" {
			md.Items = append(md.Items, gdalItem{Name: "DESCRIPTION", Sample: sample, Role: "description", Value: b.Name})
		}
		if b.HasScale {
			md.Items = append(md.Items,
				gdalItem{Name: "SCALE", Sample: sample, Role: "scale", Value: formatFloat(b.Scale)},
				gdalItem{Name: "OFFSET", Sample: sample, Role: "offset", Value: formatFloat(b.Offset)},
			)
		}
	}
	if len(md.Items) == 0 {
		return "", nil
	}
	out, err := xml.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to encode GDAL metadata: %w", err)
	}
	return string(out), nil
}

// applyGDALMetadata copies band descriptions and scale/offset onto bands
func applyGDALMetadata(text string, bands []*Band) error {
	var md gdalMetadata
	if err := xml.Unmarshal([]byte(text), &md); err != nil {
		return fmt.Errorf("failed to parse GDAL metadata: %w", err)
	}
	for _, item := range md.Items {
		if item.Sample == "" {
			continue
		}
		idx, err := strconv.Atoi(item.Sample)
		if err != nil || idx < 0 || idx >= len(bands) {
			continue
		}
		b := bands[idx]
		value := strings.TrimSpace(item.Value)
		switch strings.ToLower(item.Role) {
		case "description":
			b.Name = value
		case "scale":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				b.Scale = v
				b.HasScale = true
			}
		case "offset":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				b.Offset = v
				b.HasScale = true
			}
		}
	}
	return nil
}

func parseNodata(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	if strings.EqualFold(text, "nan") {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// isGeographic guesses whether an EPSG code names a geographic CRS. EPSG
// reserves 4000-4999 for geographic 2D systems.
func isGeographic(epsg int) bool {
	return epsg >= 4000 && epsg < 5000
}

func geoEntries(bo binary.ByteOrder, geo GeoInfo) []entry {
	if geo.IsZero() {
		return nil
	}
	t := geo.Transform
	var entries []entry
	if t[2] == 0 && t[4] == 0 {
		entries = append(entries,
			doublesEntry(bo, tagModelPixelScale, t[1], -t[5], 0),
			doublesEntry(bo, tagModelTiepoint, 0, 0, 0, t[0], t[3], 0),
		)
	} else {
		entries = append(entries, doublesEntry(bo, tagModelTransformation,
			t[1], t[2], 0, t[0],
			t[4], t[5], 0, t[3],
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}

	if geo.EPSG != 0 {
		modelType, crsKey := uint16(modelTypeProjected), uint16(geoKeyProjectedCSType)
		if isGeographic(geo.EPSG) {
			modelType, crsKey = modelTypeGeographic, geoKeyGeographicType
		}
		entries = append(entries, shortsEntry(bo, tagGeoKeyDirectory,
			1, 1, 0, 3,
			geoKeyModelType, 0, 1, modelType,
			geoKeyRasterType, 0, 1, rasterPixelIsArea,
			crsKey, 0, 1, uint16(geo.EPSG),
		))
	}
	return entries
}

func readGeoInfo(bo binary.ByteOrder, d ifd) (GeoInfo, error) {
	var geo GeoInfo

	if e, ok := d[tagModelTransformation]; ok {
		m, err := e.floats(bo)
		if err != nil {
			return geo, err
		}
		if len(m) >= 8 {
			geo.Transform = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
		}
	} else if scaleEntry, ok := d[tagModelPixelScale]; ok {
		scale, err := scaleEntry.floats(bo)
		if err != nil {
			return geo, err
		}
		tieEntry, ok := d[tagModelTiepoint]
		if ok && len(scale) >= 2 {
			tie, err := tieEntry.floats(bo)
			if err != nil {
				return geo, err
			}
			if len(tie) >= 6 {
				geo.Transform = [6]float64{
					tie[3] - tie[0]*scale[0], scale[0], 0,
					tie[4] + tie[1]*scale[1], 0, -scale[1],
				}
			}
		}
	}

	if e, ok := d[tagGeoKeyDirectory]; ok {
		keys, err := e.uints(bo)
		if err != nil {
			return geo, err
		}
		if len(keys) >= 4 {
			n := int(keys[3])
			for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
				k := keys[4+4*i:]
				id, location, value := k[0], k[1], k[3]
				if location != 0 {
					continue
				}
				if id == geoKeyProjectedCSType || (id == geoKeyGeographicType && geo.EPSG == 0) {
					if value != 32767 {
						geo.EPSG = int(value)
					}
				}
			}
		}
	}
	return geo, nil
}
