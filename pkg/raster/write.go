package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zlib"
)

// DataType selects the on-disk sample type
type DataType int

// Supported sample types
const (
	Float32 DataType = iota
	Float64
	Uint8
	Uint16
	Int16
	Uint32
	Int32
)

func (t DataType) formatBits() (int, int) {
	switch t {
	case Float64:
		return sampleFormatFloat, 64
	case Uint8:
		return sampleFormatUint, 8
	case Uint16:
		return sampleFormatUint, 16
	case Int16:
		return sampleFormatInt, 16
	case Uint32:
		return sampleFormatUint, 32
	case Int32:
		return sampleFormatInt, 32
	default:
		return sampleFormatFloat, 32
	}
}

// WriteOptions controls the file layout. The zero value writes float32,
// deflate-compressed, band-separate strips in little-endian order.
type WriteOptions struct {
	DataType DataType
	// Uncompressed disables deflate compression
	Uncompressed bool
	// PixelInterleaved stores bands interleaved per pixel instead of one plane per band
	PixelInterleaved bool
	// TileSize writes square tiles of this size instead of strips (must be a multiple of 16)
	TileSize int
	// RowsPerStrip splits strips; 0 means one strip per plane
	RowsPerStrip int
	// Predictor enables horizontal differencing for integer data types
	Predictor bool
	BigEndian bool
}

// Write encodes r as a GeoTIFF and atomically replaces path
func Write(path string, r *Raster, opts WriteOptions) error {
	data, err := Encode(r, opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create raster directory: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary raster file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write raster: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync raster: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close raster: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace raster: %w", err)
	}
	return nil
}

// Encode renders r as a GeoTIFF byte stream
func Encode(r *Raster, opts WriteOptions) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	var bo binary.ByteOrder = binary.LittleEndian
	if opts.BigEndian {
		bo = binary.BigEndian
	}

	l := &layout{bo: bo, width: r.Cols, height: r.Rows, spp: len(r.Bands)}
	l.format, l.bits = opts.DataType.formatBits()
	l.compression = compressionDeflate
	if opts.Uncompressed {
		l.compression = compressionNone
	}
	l.predictor = predictorNone
	if opts.Predictor {
		if l.format == sampleFormatFloat {
			return nil, fmt.Errorf("predictor requires an integer data type")
		}
		l.predictor = predictorHorizontal
	}
	l.planar = planarSeparate
	if opts.PixelInterleaved {
		l.planar = planarContiguous
	}
	if opts.TileSize > 0 {
		if opts.TileSize%16 != 0 {
			return nil, fmt.Errorf("tile size %d is not a multiple of 16", opts.TileSize)
		}
		l.tiled = true
		l.chunkW, l.chunkH = opts.TileSize, opts.TileSize
	} else {
		l.chunkW, l.chunkH = r.Cols, r.Rows
		if opts.RowsPerStrip > 0 && opts.RowsPerStrip < r.Rows {
			l.chunkH = opts.RowsPerStrip
		}
	}
	l.across = (l.width + l.chunkW - 1) / l.chunkW
	l.down = (l.height + l.chunkH - 1) / l.chunkH

	var body bytes.Buffer
	body.Write(make([]byte, 8))

	chunks, err := l.encodeChunks(r)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint32, len(chunks))
	counts := make([]uint32, len(chunks))
	for i, c := range chunks {
		offsets[i] = uint32(body.Len())
		counts[i] = uint32(len(c))
		body.Write(c)
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	entries, err := l.entries(r, offsets, counts)
	if err != nil {
		return nil, err
	}

	out := body.Bytes()
	copy(out[0:2], byteOrderMark(bo))
	bo.PutUint16(out[2:4], 42)
	bo.PutUint32(out[4:8], uint32(len(out)))

	return appendIFD(bo, out, entries), nil
}

func byteOrderMark(bo binary.ByteOrder) []byte {
	if bo == binary.BigEndian {
		return []byte("MM")
	}
	return []byte("II")
}

func (l *layout) entries(r *Raster, offsets, counts []uint32) ([]entry, error) {
	bo := l.bo
	n := uint16(l.spp)

	perSample := func(v uint16) []uint16 {
		out := make([]uint16, n)
		for i := range out {
			out[i] = v
		}
		return out
	}

	entries := []entry{
		longsEntry(bo, tagImageWidth, uint32(l.width)),
		longsEntry(bo, tagImageLength, uint32(l.height)),
		shortsEntry(bo, tagBitsPerSample, perSample(uint16(l.bits))...),
		shortsEntry(bo, tagCompression, uint16(l.compression)),
		shortsEntry(bo, tagPhotometric, photometricBlackIsZero),
		shortsEntry(bo, tagSamplesPerPixel, n),
		shortsEntry(bo, tagPlanarConfiguration, uint16(l.planar)),
		shortsEntry(bo, tagSampleFormat, perSample(uint16(l.format))...),
	}
	if l.predictor != predictorNone {
		entries = append(entries, shortsEntry(bo, tagPredictor, uint16(l.predictor)))
	}
	if n > 1 {
		extra := make([]uint16, n-1)
		entries = append(entries, shortsEntry(bo, tagExtraSamples, extra...))
	}
	if l.tiled {
		entries = append(entries,
			longsEntry(bo, tagTileWidth, uint32(l.chunkW)),
			longsEntry(bo, tagTileLength, uint32(l.chunkH)),
			longsEntry(bo, tagTileOffsets, offsets...),
			longsEntry(bo, tagTileByteCounts, counts...),
		)
	} else {
		entries = append(entries,
			longsEntry(bo, tagRowsPerStrip, uint32(l.chunkH)),
			longsEntry(bo, tagStripOffsets, offsets...),
			longsEntry(bo, tagStripByteCounts, counts...),
		)
	}

	entries = append(entries, geoEntries(bo, r.Geo)...)

	md, err := encodeGDALMetadata(r.Bands)
	if err != nil {
		return nil, err
	}
	if md != "" {
		entries = append(entries, asciiEntry(tagGDALMetadata, md))
	}
	if b := r.Bands[0]; b.HasNodata {
		entries = append(entries, asciiEntry(tagGDALNodata, formatFloat(b.Nodata)))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
	return entries, nil
}

// appendIFD serialises entries at the end of out, followed by the values
// that do not fit in the 4-byte entry slot
func appendIFD(bo binary.ByteOrder, out []byte, entries []entry) []byte {
	ifdStart := len(out)
	valuesStart := ifdStart + 2 + 12*len(entries) + 4

	ifdBuf := make([]byte, 2+12*len(entries)+4)
	bo.PutUint16(ifdBuf[0:2], uint16(len(entries)))

	var values bytes.Buffer
	for i, e := range entries {
		b := ifdBuf[2+12*i:]
		bo.PutUint16(b[0:2], e.tag)
		bo.PutUint16(b[2:4], e.typ)
		bo.PutUint32(b[4:8], e.count)
		if len(e.data) <= 4 {
			copy(b[8:12], e.data)
			continue
		}
		bo.PutUint32(b[8:12], uint32(valuesStart+values.Len()))
		values.Write(e.data)
		if values.Len()%2 == 1 {
			values.WriteByte(0)
		}
	}
	// next IFD offset stays zero

	out = append(out, ifdBuf...)
	return append(out, values.Bytes()...)
}

func (l *layout) encodeChunks(r *Raster) ([][]byte, error) {
	planes := 1
	if l.planar == planarSeparate {
		planes = l.spp
	}
	bps := l.bytesPerSample()
	sppc := l.samplesPerChunkPixel()

	var chunks [][]byte
	for plane := 0; plane < planes; plane++ {
		for ty := 0; ty < l.down; ty++ {
			rows := l.chunkH
			if !l.tiled && (ty+1)*l.chunkH > l.height {
				rows = l.height - ty*l.chunkH
			}
			for tx := 0; tx < l.across; tx++ {
				buf := make([]byte, l.chunkW*rows*sppc*bps)
				for cy := 0; cy < rows; cy++ {
					row := ty*l.chunkH + cy
					if row >= l.height {
						break
					}
					for cx := 0; cx < l.chunkW; cx++ {
						col := tx*l.chunkW + cx
						if col >= l.width {
							break
						}
						pix := row*l.width + col
						base := (cy*l.chunkW + cx) * sppc
						if l.planar == planarSeparate {
							l.putSample(buf, base*bps, r.Bands[plane].Values[pix])
							continue
						}
						for s := 0; s < l.spp; s++ {
							l.putSample(buf, (base+s)*bps, r.Bands[s].Values[pix])
						}
					}
				}

				if l.predictor == predictorHorizontal {
					applyHorizontalDifferencing(l.bo, buf, l.chunkW*sppc, sppc, bps)
				}

				if l.compression == compressionNone {
					chunks = append(chunks, buf)
					continue
				}
				var z bytes.Buffer
				zw, err := zlib.NewWriterLevel(&z, zlib.DefaultCompression)
				if err != nil {
					return nil, fmt.Errorf("failed to create deflate writer: %w", err)
				}
				if _, err := zw.Write(buf); err != nil {
					return nil, fmt.Errorf("failed to deflate chunk: %w", err)
				}
				if err := zw.Close(); err != nil {
					return nil, fmt.Errorf("failed to finish deflate chunk: %w", err)
				}
				chunks = append(chunks, z.Bytes())
			}
		}
	}
	return chunks, nil
}

func (l *layout) putSample(buf []byte, off int, v float64) {
	switch l.format {
	case sampleFormatFloat:
		if l.bits == 32 {
			l.bo.PutUint32(buf[off:], math.Float32bits(float32(v)))
			return
		}
		l.bo.PutUint64(buf[off:], math.Float64bits(v))
	case sampleFormatUint:
		switch l.bits {
		case 8:
			buf[off] = uint8(clampRound(v, 0, math.MaxUint8))
		case 16:
			l.bo.PutUint16(buf[off:], uint16(clampRound(v, 0, math.MaxUint16)))
		default:
			l.bo.PutUint32(buf[off:], uint32(clampRound(v, 0, math.MaxUint32)))
		}
	case sampleFormatInt:
		switch l.bits {
		case 8:
			buf[off] = byte(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
		case 16:
			l.bo.PutUint16(buf[off:], uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		default:
			l.bo.PutUint32(buf[off:], uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
		}
	}
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
