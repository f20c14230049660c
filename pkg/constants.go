package dupwalk

import "strings"

// File and directory names reserved by dupwalk
const (
	MarkerName = ".folder_info"    // zero-byte completion marker written into every finished folder
	StateDir   = ".duplicate_info" // per-root state directory, never walked
	ConfigFile = "config"
	IgnoreFile = "ignore"
	LockFile   = "lock"
	StateFile  = "hashes.idx"
	StateDB    = "hashes.db"
)

// State file format constants
const (
	StateHeaderSize     = 48 // signature(4) + version(4) + flags(2) + hash_type(2) + entry_count(8) + raw_len(8) + body_len(8) + checksum(8) + reserved(4)
	CurrentStateVersion = 1
	stateRecordTail     = DigestSize + 8 // digest + unix nanos
)

// StateSignature identifies a dupwalk state file
var StateSignature = [4]byte{'d', 'u', 'p', 'w'}

// State header flags
const (
	StateFlagLZ4 uint16 = 1 << 0 // body is an lz4 block
)

// Hash type constants
const (
	HashTypeSHA256     uint16 = 2 // SHA-256 (32 bytes)
	HashTypeSHA512_256 uint16 = 4 // SHA-512/256 (32 bytes)
)

// DigestSize is the fixed fingerprint length; every supported algorithm produces 256 bits
const DigestSize = 32

// HashTypeName returns the human-readable name for a hash type
func HashTypeName(hashType uint16) string {
	switch hashType {
	case HashTypeSHA256:
		return "sha256"
	case HashTypeSHA512_256:
		return "sha512_256"
	default:
		return "unknown"
	}
}

// HashTypeFromName returns the hash type constant from a name (case-insensitive)
func HashTypeFromName(name string) (uint16, bool) {
	switch strings.ToLower(name) {
	case "sha256":
		return HashTypeSHA256, true
	case "sha512_256", "sha512/256":
		return HashTypeSHA512_256, true
	default:
		return 0, false
	}
}

// Defaults
const (
	DefaultHashBuffer         = "1MiB"
	DefaultMaxInFlightFolders = 1000
	DefaultSaveInterval       = "1m"
	DefaultStateBackend       = "file"
	DefaultDebounce           = "500ms"
)
const defaultHashBufferBytes = 1 << 20
