package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// Baseline and GeoTIFF tags understood by the codec
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagExtraSamples        = 338
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALMetadata        = 42112
	tagGDALNodata          = 42113
)

// Field types
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8, dtSByte: 1,
	dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8, dtFloat: 4, dtDouble: 8,
}

// Compression schemes
const (
	compressionNone        = 1
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatFloat      = 3
	planarContiguous       = 1
	planarSeparate         = 2
	geoKeyModelType        = 1024
	geoKeyRasterType       = 1025
	geoKeyGeographicType   = 2048
	geoKeyProjectedCSType  = 3072
	modelTypeProjected     = 1
	modelTypeGeographic    = 2
	rasterPixelIsArea      = 1
	photometricBlackIsZero = 1
)

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func (e entry) uints(bo binary.ByteOrder) ([]uint64, error) {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.data[i])
		case dtShort:
			out[i] = uint64(bo.Uint16(e.data[2*i:]))
		case dtLong:
			out[i] = uint64(bo.Uint32(e.data[4*i:]))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", e.tag, e.typ)
		}
	}
	return out, nil
}

func (e entry) floats(bo binary.ByteOrder) ([]float64, error) {
	switch e.typ {
	case dtDouble:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = math.Float64frombits(bo.Uint64(e.data[8*i:]))
		}
		return out, nil
	case dtFloat:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(bo.Uint32(e.data[4*i:])))
		}
		return out, nil
	default:
		u, err := e.uints(bo)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(u))
		for i, v := range u {
			out[i] = float64(v)
		}
		return out, nil
	}
}

func (e entry) ascii() string {
	return strings.TrimRight(string(e.data), "\x00 ")
}

type ifd map[uint16]entry

func (d ifd) uint(bo binary.ByteOrder, tag uint16, def uint64) (uint64, error) {
	e, ok := d[tag]
	if !ok {
		return def, nil
	}
	v, err := e.uints(bo)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

// uniform returns the single value shared by every sample of a per-sample tag
func (d ifd) uniform(bo binary.ByteOrder, tag uint16, def uint64) (uint64, error) {
	e, ok := d[tag]
	if !ok {
		return def, nil
	}
	v, err := e.uints(bo)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	for _, x := range v[1:] {
		if x != v[0] {
			return 0, fmt.Errorf("tag %d: mixed per-sample values %v are not supported", tag, v)
		}
	}
	return v[0], nil
}

func readIFD(r io.ReaderAt, bo binary.ByteOrder, offset int64) (ifd, error) {
	var countBuf [2]byte
	if _, err := r.ReadAt(countBuf[:], offset); err != nil {
		return nil, fmt.Errorf("failed to read IFD at %d: %w", offset, err)
	}
	n := int(bo.Uint16(countBuf[:]))

	raw := make([]byte, 12*n)
	if _, err := r.ReadAt(raw, offset+2); err != nil {
		return nil, fmt.Errorf("failed to read IFD entries: %w", err)
	}

	d := make(ifd, n)
	for i := 0; i < n; i++ {
		b := raw[12*i : 12*i+12]
		e := entry{
			tag:   bo.Uint16(b[0:2]),
			typ:   bo.Uint16(b[2:4]),
			count: bo.Uint32(b[4:8]),
		}
		size, known := typeSizes[e.typ]
		if !known {
			continue
		}
		total := int64(size) * int64(e.count)
		if total <= 4 {
			e.data = append([]byte(nil), b[8:8+total]...)
		} else {
			e.data = make([]byte, total)
			if _, err := r.ReadAt(e.data, int64(bo.Uint32(b[8:12]))); err != nil {
				return nil, fmt.Errorf("failed to read value of tag %d: %w", e.tag, err)
			}
		}
		d[e.tag] = e
	}
	return d, nil
}

func shortsEntry(bo binary.ByteOrder, tag uint16, vals ...uint16) entry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		bo.PutUint16(data[2*i:], v)
	}
	return entry{tag: tag, typ: dtShort, count: uint32(len(vals)), data: data}
}

func longsEntry(bo binary.ByteOrder, tag uint16, vals ...uint32) entry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		bo.PutUint32(data[4*i:], v)
	}
	return entry{tag: tag, typ: dtLong, count: uint32(len(vals)), data: data}
}

func doublesEntry(bo binary.ByteOrder, tag uint16, vals ...float64) entry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		bo.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: dtDouble, count: uint32(len(vals)), data: data}
}

func asciiEntry(tag uint16, s string) entry {
	data := append([]byte(s), 0)
	return entry{tag: tag, typ: dtASCII, count: uint32(len(data)), data: data}
}
