package dupwalk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/vectorio"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sys/unix"
)

const (
	// iovMax caps the iovecs handed to one writev call (Linux IOV_MAX)
	iovMax = 1024
	// maxLZ4Ratio bounds how far one lz4 block can expand
	maxLZ4Ratio = 255
	// minStateRecord is a record with an empty path
	minStateRecord = 1 + stateRecordTail
)

// stateHeader is the fixed little-endian header of hashes.idx
type stateHeader struct {
	Signature  [4]byte
	Version    uint32
	Flags      uint16
	HashType   uint16
	EntryCount uint64
	RawLen     uint64 // body length before compression
	BodyLen    uint64 // body length on disk
	Checksum   uint64 // xxhash64 of the header (this field zeroed) and the on-disk body
	Reserved   uint32
}

func (h *stateHeader) marshal() []byte {
	buf := make([]byte, StateHeaderSize)
	copy(buf[0:4], h.Signature[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint16(buf[8:10], h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.HashType)
	binary.LittleEndian.PutUint64(buf[12:20], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[20:28], h.RawLen)
	binary.LittleEndian.PutUint64(buf[28:36], h.BodyLen)
	binary.LittleEndian.PutUint64(buf[36:44], h.Checksum)
	binary.LittleEndian.PutUint32(buf[44:48], h.Reserved)
	return buf
}

func unmarshalStateHeader(buf []byte) (*stateHeader, error) {
	if len(buf) < StateHeaderSize {
		return nil, fmt.Errorf("%w: header truncated (%d bytes)", ErrSerialization, len(buf))
	}
	h := &stateHeader{}
	copy(h.Signature[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Flags = binary.LittleEndian.Uint16(buf[8:10])
	h.HashType = binary.LittleEndian.Uint16(buf[10:12])
	h.EntryCount = binary.LittleEndian.Uint64(buf[12:20])
	h.RawLen = binary.LittleEndian.Uint64(buf[20:28])
	h.BodyLen = binary.LittleEndian.Uint64(buf[28:36])
	h.Checksum = binary.LittleEndian.Uint64(buf[36:44])
	h.Reserved = binary.LittleEndian.Uint32(buf[44:48])
	return h, nil
}

// stateChecksum digests the encoded header with its checksum field zeroed, then the body
func stateChecksum(header []byte, body ...[]byte) uint64 {
	var zeroed [StateHeaderSize]byte
	copy(zeroed[:], header)
	clear(zeroed[36:44])

	digest := xxhash.New()
	digest.Write(zeroed[:])
	for _, part := range body {
		digest.Write(part)
	}
	return digest.Sum64()
}

// validate rejects header values that cannot describe a body of bodyLen bytes
func (h *stateHeader) validate() error {
	if h.Flags&^StateFlagLZ4 != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrSerialization, h.Flags)
	}
	if h.Flags&StateFlagLZ4 == 0 {
		if h.RawLen != h.BodyLen {
			return fmt.Errorf("%w: raw length %d differs from uncompressed body %d", ErrSerialization, h.RawLen, h.BodyLen)
		}
	} else if h.BodyLen == 0 || h.RawLen == 0 || h.RawLen > h.BodyLen*maxLZ4Ratio {
		return fmt.Errorf("%w: implausible raw length %d for %d compressed bytes", ErrSerialization, h.RawLen, h.BodyLen)
	}
	if h.EntryCount > h.RawLen/minStateRecord {
		return fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrSerialization, h.EntryCount, h.RawLen)
	}
	return nil
}

// FileBackend keeps the forward map in a single binary file under the state directory
type FileBackend struct {
	path     string
	hashType uint16
}

// NewFileBackend stores state in stateDir/hashes.idx for digests of the given hash type
func NewFileBackend(stateDir string, hashType uint16) *FileBackend {
	return &FileBackend{
		path:     filepath.Join(stateDir, StateFile),
		hashType: hashType,
	}
}

// Path returns the state file location
func (b *FileBackend) Path() string { return b.path }

// encodeRecords returns the raw body and the byte slice of each record within it
func encodeRecords(entries []Entry) ([]byte, [][]byte) {
	var body bytes.Buffer
	offsets := make([]int, 0, len(entries)+1)
	var scratch [binary.MaxVarintLen64]byte
	var nanos [8]byte

	for _, e := range entries {
		offsets = append(offsets, body.Len())
		n := binary.PutUvarint(scratch[:], uint64(len(e.Path)))
		body.Write(scratch[:n])
		body.WriteString(e.Path)
		body.Write(e.Fingerprint.Digest[:])
		binary.LittleEndian.PutUint64(nanos[:], uint64(e.Fingerprint.Computed.UnixNano()))
		body.Write(nanos[:])
	}
	offsets = append(offsets, body.Len())

	raw := body.Bytes()
	records := make([][]byte, 0, len(entries))
	for i := 0; i+1 < len(offsets); i++ {
		records = append(records, raw[offsets[i]:offsets[i+1]])
	}
	return raw, records
}

// decodeRecords parses count records out of raw; strings are copied off the mapping
func decodeRecords(raw []byte, count uint64) ([]Entry, error) {
	if count > uint64(len(raw))/minStateRecord {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrSerialization, count, len(raw))
	}
	entries := make([]Entry, 0, count)
	offset := 0
	for i := uint64(0); i < count; i++ {
		pathLen, n := binary.Uvarint(raw[offset:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad path length in record %d", ErrSerialization, i)
		}
		offset += n
		end := offset + int(pathLen)
		if pathLen > uint64(len(raw)) || end+stateRecordTail > len(raw) {
			return nil, fmt.Errorf("%w: record %d runs past end of body", ErrSerialization, i)
		}
		path := string(raw[offset:end])
		offset = end

		var fp Fingerprint
		copy(fp.Digest[:], raw[offset:offset+DigestSize])
		offset += DigestSize
		fp.Computed = time.Unix(0, int64(binary.LittleEndian.Uint64(raw[offset:offset+8])))
		offset += 8

		entries = append(entries, Entry{Path: path, Fingerprint: fp})
	}
	if offset != len(raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d records", ErrSerialization, len(raw)-offset, count)
	}
	return entries, nil
}

// Save writes entries to a temporary file with writev, syncs it and renames it over the state file
func (b *FileBackend) Save(entries []Entry) error {
	defer VerboseEnter()()

	raw, records := encodeRecords(entries)
	header := stateHeader{
		Signature:  StateSignature,
		Version:    CurrentStateVersion,
		HashType:   b.hashType,
		EntryCount: uint64(len(entries)),
		RawLen:     uint64(len(raw)),
	}

	bodyParts := records
	if len(raw) > 0 {
		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, compressed, nil)
		if err != nil {
			return fmt.Errorf("failed to compress state body: %w", err)
		}
		// n == 0 means the body did not compress
		if n > 0 && n < len(raw) {
			header.Flags |= StateFlagLZ4
			bodyParts = [][]byte{compressed[:n]}
		}
	}

	for _, part := range bodyParts {
		header.BodyLen += uint64(len(part))
	}
	header.Checksum = stateChecksum(header.marshal(), bodyParts...)

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tempPath := fmt.Sprintf("%s.tmp.%d", b.path, os.Getpid())
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp state file %s: %w", tempPath, err)
	}

	parts := append([][]byte{header.marshal()}, bodyParts...)
	if err := writevAll(file, parts); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := unix.Fdatasync(int(file.Fd())); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tempPath, b.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	VerboseLog(2, "saved %d entries to %s (%d body bytes, lz4=%t)",
		len(entries), b.path, header.BodyLen, header.Flags&StateFlagLZ4 != 0)
	return nil
}

// writevAll writes every part in order using writev, finishing short writes with plain writes
func writevAll(file *os.File, parts [][]byte) error {
	iovecs := make([]syscall.Iovec, 0, len(parts))
	lengths := make([]int, 0, len(parts))
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		iov := syscall.Iovec{Base: &part[0]}
		iov.SetLen(len(part))
		iovecs = append(iovecs, iov)
		lengths = append(lengths, len(part))
	}

	for offset := 0; offset < len(iovecs); offset += iovMax {
		end := offset + iovMax
		if end > len(iovecs) {
			end = len(iovecs)
		}
		expected := 0
		for _, l := range lengths[offset:end] {
			expected += l
		}

		nw, err := vectorio.WritevRaw(uintptr(file.Fd()), iovecs[offset:end])
		if err != nil {
			return fmt.Errorf("failed to write state with vectorio: %w", err)
		}
		if nw < expected {
			if err := writeRemainder(file, parts, offset, end, nw); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeRemainder finishes a short writev over the non-empty parts with indices [from, to)
func writeRemainder(file *os.File, parts [][]byte, from, to, written int) error {
	idx := 0
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		if idx >= from && idx < to {
			if written >= len(part) {
				written -= len(part)
			} else {
				if _, err := file.Write(part[written:]); err != nil {
					return fmt.Errorf("failed to finish short state write: %w", err)
				}
				written = 0
			}
		}
		idx++
	}
	return nil
}

// Load maps the state file read-only and decodes it. A missing file yields
// os.ErrNotExist; anything unreadable wraps ErrSerialization.
func (b *FileBackend) Load() ([]Entry, error) {
	defer VerboseEnter()()

	file, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat state file: %w", err)
	}
	if stat.Size() < StateHeaderSize {
		return nil, fmt.Errorf("%w: file too small: %d bytes", ErrSerialization, stat.Size())
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap state file: %w", err)
	}
	defer unix.Munmap(data)

	header, err := unmarshalStateHeader(data)
	if err != nil {
		return nil, err
	}
	if header.Signature != StateSignature {
		return nil, fmt.Errorf("%w: bad signature %q", ErrSerialization, header.Signature[:])
	}
	if header.Version != CurrentStateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSerialization, header.Version)
	}
	if header.HashType != b.hashType {
		return nil, fmt.Errorf("%w: state holds %s digests, run uses %s", ErrSerialization,
			HashTypeName(header.HashType), HashTypeName(b.hashType))
	}
	if uint64(len(data)-StateHeaderSize) != header.BodyLen {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrSerialization,
			len(data)-StateHeaderSize, header.BodyLen)
	}

	body := data[StateHeaderSize:]
	if stateChecksum(data[:StateHeaderSize], body) != header.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrSerialization)
	}
	if err := header.validate(); err != nil {
		return nil, err
	}

	raw := body
	if header.Flags&StateFlagLZ4 != 0 {
		raw = make([]byte, header.RawLen)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		if uint64(n) != header.RawLen {
			return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrSerialization, n, header.RawLen)
		}
	}

	return decodeRecords(raw, header.EntryCount)
}

// Close is a no-op; the file is only open during Save and Load
func (b *FileBackend) Close() error { return nil }
