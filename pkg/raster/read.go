package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zlib"
)

// layout describes how the pixels of an image are chunked on disk
type layout struct {
	bo          binary.ByteOrder
	width       int
	height      int
	spp         int
	bits        int
	format      int
	compression int
	predictor   int
	planar      int
	chunkW      int
	chunkH      int
	across      int
	down        int
	tiled       bool
	offsets     []uint64
	counts      []uint64
}

func (l *layout) bytesPerSample() int { return l.bits / 8 }

// samplesPerChunkPixel is the number of interleaved samples per pixel in one chunk
func (l *layout) samplesPerChunkPixel() int {
	if l.planar == planarSeparate {
		return 1
	}
	return l.spp
}

// Read decodes a GeoTIFF file
func Read(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()

	r, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Decode decodes the first image of a classic (non-Big) TIFF
func Decode(r io.ReaderAt) (*Raster, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}
	switch magic := bo.Uint16(hdr[2:4]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("bad TIFF magic %d", magic)
	}

	d, err := readIFD(r, bo, int64(bo.Uint32(hdr[4:8])))
	if err != nil {
		return nil, err
	}

	l, err := newLayout(bo, d)
	if err != nil {
		return nil, err
	}

	geo, err := readGeoInfo(bo, d)
	if err != nil {
		return nil, err
	}

	out := New(l.height, l.width, geo)
	for i := 0; i < l.spp; i++ {
		if _, err := out.AddBand(fmt.Sprintf("band_%d", i+1), make([]float64, l.width*l.height)); err != nil {
			return nil, err
		}
	}

	if err := l.decodeChunks(r, out); err != nil {
		return nil, err
	}

	if e, ok := d[tagGDALNodata]; ok {
		if nodata, ok := parseNodata(e.ascii()); ok {
			for _, b := range out.Bands {
				b.Nodata = nodata
				b.HasNodata = true
			}
		}
	}
	if e, ok := d[tagGDALMetadata]; ok {
		if err := applyGDALMetadata(e.ascii(), out.Bands); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func newLayout(bo binary.ByteOrder, d ifd) (*layout, error) {
	l := &layout{bo: bo}

	get := func(tag uint16, def uint64) int {
		v, err := d.uint(bo, tag, def)
		if err != nil {
			return -1
		}
		return int(v)
	}
	uniform := func(tag uint16, def uint64) (int, error) {
		v, err := d.uniform(bo, tag, def)
		return int(v), err
	}

	l.width = get(tagImageWidth, 0)
	l.height = get(tagImageLength, 0)
	l.spp = get(tagSamplesPerPixel, 1)
	l.compression = get(tagCompression, compressionNone)
	l.predictor = get(tagPredictor, predictorNone)
	l.planar = get(tagPlanarConfiguration, planarContiguous)
	if l.width <= 0 || l.height <= 0 || l.spp <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%dx%d", l.width, l.height, l.spp)
	}

	var err error
	if l.bits, err = uniform(tagBitsPerSample, 1); err != nil {
		return nil, err
	}
	if l.format, err = uniform(tagSampleFormat, sampleFormatUint); err != nil {
		return nil, err
	}
	if err := l.checkSampleType(); err != nil {
		return nil, err
	}

	switch l.compression {
	case compressionNone, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("compression %d is not supported", l.compression)
	}
	switch l.predictor {
	case predictorNone:
	case predictorHorizontal:
		if l.format == sampleFormatFloat {
			return nil, fmt.Errorf("horizontal predictor on floating point samples is not supported")
		}
	default:
		return nil, fmt.Errorf("predictor %d is not supported", l.predictor)
	}
	if l.planar != planarContiguous && l.planar != planarSeparate {
		return nil, fmt.Errorf("planar configuration %d is not supported", l.planar)
	}

	var offsetsTag, countsTag uint16
	if _, ok := d[tagTileWidth]; ok {
		l.tiled = true
		l.chunkW = get(tagTileWidth, 0)
		l.chunkH = get(tagTileLength, 0)
		offsetsTag, countsTag = tagTileOffsets, tagTileByteCounts
	} else {
		l.chunkW = l.width
		l.chunkH = get(tagRowsPerStrip, uint64(l.height))
		if l.chunkH > l.height {
			l.chunkH = l.height
		}
		offsetsTag, countsTag = tagStripOffsets, tagStripByteCounts
	}
	if l.chunkW <= 0 || l.chunkH <= 0 {
		return nil, fmt.Errorf("invalid chunk size %dx%d", l.chunkW, l.chunkH)
	}
	l.across = (l.width + l.chunkW - 1) / l.chunkW
	l.down = (l.height + l.chunkH - 1) / l.chunkH

	offsets, ok := d[offsetsTag]
	if !ok {
		return nil, fmt.Errorf("missing chunk offsets")
	}
	counts, ok := d[countsTag]
	if !ok {
		return nil, fmt.Errorf("missing chunk byte counts")
	}
	if l.offsets, err = offsets.uints(bo); err != nil {
		return nil, err
	}
	if l.counts, err = counts.uints(bo); err != nil {
		return nil, err
	}

	want := l.across * l.down
	if l.planar == planarSeparate {
		want *= l.spp
	}
	if len(l.offsets) < want || len(l.counts) < want {
		return nil, fmt.Errorf("expected %d chunks, found %d offsets and %d byte counts", want, len(l.offsets), len(l.counts))
	}
	return l, nil
}

func (l *layout) checkSampleType() error {
	switch l.format {
	case sampleFormatUint, sampleFormatInt:
		switch l.bits {
		case 8, 16, 32:
			return nil
		}
	case sampleFormatFloat:
		switch l.bits {
		case 32, 64:
			return nil
		}
	}
	return fmt.Errorf("sample format %d with %d bits is not supported", l.format, l.bits)
}

func (l *layout) decodeChunks(r io.ReaderAt, out *Raster) error {
	planes := 1
	if l.planar == planarSeparate {
		planes = l.spp
	}
	perPlane := l.across * l.down
	bps := l.bytesPerSample()
	sppc := l.samplesPerChunkPixel()

	for plane := 0; plane < planes; plane++ {
		for ty := 0; ty < l.down; ty++ {
			for tx := 0; tx < l.across; tx++ {
				idx := plane*perPlane + ty*l.across + tx
				buf, err := l.readChunk(r, idx)
				if err != nil {
					return err
				}

				rowBytes := l.chunkW * sppc * bps
				if l.predictor == predictorHorizontal {
					undoHorizontalDifferencing(l.bo, buf, l.chunkW*sppc, sppc, bps)
				}

				for cy := 0; cy < l.chunkH; cy++ {
					row := ty*l.chunkH + cy
					if row >= l.height {
						break
					}
					if (cy+1)*rowBytes > len(buf) {
						return fmt.Errorf("chunk %d is truncated at row %d", idx, row)
					}
					for cx := 0; cx < l.chunkW; cx++ {
						col := tx*l.chunkW + cx
						if col >= l.width {
							break
						}
						pix := row*l.width + col
						base := (cy*l.chunkW + cx) * sppc
						if l.planar == planarSeparate {
							out.Bands[plane].Values[pix] = l.sample(buf, base*bps)
							continue
						}
						for s := 0; s < l.spp; s++ {
							out.Bands[s].Values[pix] = l.sample(buf, (base+s)*bps)
						}
					}
				}
			}
		}
	}
	return nil
}

func (l *layout) readChunk(r io.ReaderAt, idx int) ([]byte, error) {
	raw := make([]byte, l.counts[idx])
	if _, err := r.ReadAt(raw, int64(l.offsets[idx])); err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", idx, err)
	}
	if l.compression == compressionNone {
		return raw, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to open deflate stream of chunk %d: %w", idx, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate chunk %d: %w", idx, err)
	}
	return out, nil
}

func (l *layout) sample(buf []byte, off int) float64 {
	switch l.format {
	case sampleFormatUint:
		switch l.bits {
		case 8:
			return float64(buf[off])
		case 16:
			return float64(l.bo.Uint16(buf[off:]))
		default:
			return float64(l.bo.Uint32(buf[off:]))
		}
	case sampleFormatInt:
		switch l.bits {
		case 8:
			return float64(int8(buf[off]))
		case 16:
			return float64(int16(l.bo.Uint16(buf[off:])))
		default:
			return float64(int32(l.bo.Uint32(buf[off:])))
		}
	default:
		if l.bits == 32 {
			return float64(math.Float32frombits(l.bo.Uint32(buf[off:])))
		}
		return math.Float64frombits(l.bo.Uint64(buf[off:]))
	}
}

// undoHorizontalDifferencing reverses TIFF predictor 2 in place. rowSamples
// is the number of samples in one chunk row and stride the samples per pixel.
func undoHorizontalDifferencing(bo binary.ByteOrder, buf []byte, rowSamples, stride, bps int) {
	rowBytes := rowSamples * bps
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		row := buf[start : start+rowBytes]
		for i := stride; i < rowSamples; i++ {
			switch bps {
			case 1:
				row[i] += row[i-stride]
			case 2:
				bo.PutUint16(row[2*i:], bo.Uint16(row[2*i:])+bo.Uint16(row[2*(i-stride):]))
			case 4:
				bo.PutUint32(row[4*i:], bo.Uint32(row[4*i:])+bo.Uint32(row[4*(i-stride):]))
			}
		}
	}
}

// applyHorizontalDifferencing is the inverse of undoHorizontalDifferencing
func applyHorizontalDifferencing(bo binary.ByteOrder, buf []byte, rowSamples, stride, bps int) {
	rowBytes := rowSamples * bps
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		row := buf[start : start+rowBytes]
		for i := rowSamples - 1; i >= stride; i-- {
			switch bps {
			case 1:
				row[i] -= row[i-stride]
			case 2:
				bo.PutUint16(row[2*i:], bo.Uint16(row[2*i:])-bo.Uint16(row[2*(i-stride):]))
			case 4:
				bo.PutUint32(row[4*i:], bo.Uint32(row[4*i:])-bo.Uint32(row[4*(i-stride):]))
			}
		}
	}
}
