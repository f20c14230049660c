package dupwalk

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// HashAlgorithm represents a hash algorithm configuration
type HashAlgorithm struct {
	Name    string
	TypeID  uint16
	Size    int
	NewFunc func() hash.Hash
}

// GetHashAlgorithm returns the hash algorithm configuration for the given name.
// An empty name selects sha256.
func GetHashAlgorithm(name string) (*HashAlgorithm, error) {
	if name == "" {
		name = "sha256"
	}
	typeID, ok := HashTypeFromName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, name)
	}
	return GetHashAlgorithmByType(typeID)
}

// GetHashAlgorithmByType returns the hash algorithm configuration for the given type ID
func GetHashAlgorithmByType(typeID uint16) (*HashAlgorithm, error) {
	var h crypto.Hash
	switch typeID {
	case HashTypeSHA256:
		h = crypto.SHA256
	case HashTypeSHA512_256:
		h = crypto.SHA512_256
	default:
		return nil, fmt.Errorf("%w: type id %d", ErrAlgorithmUnavailable, typeID)
	}
	if !h.Available() {
		return nil, fmt.Errorf("%w: %s not linked into binary", ErrAlgorithmUnavailable, HashTypeName(typeID))
	}
	return &HashAlgorithm{
		Name:    HashTypeName(typeID),
		TypeID:  typeID,
		Size:    h.Size(),
		NewFunc: h.New,
	}, nil
}

// HashFileInterruptible hashes a file in bufferSize chunks and checks ctx between reads.
// It returns the digest and the number of bytes read.
func HashFileInterruptible(ctx context.Context, filePath string, algorithm *HashAlgorithm, bufferSize int) ([]byte, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, 0, ioError(filePath, err)
	}
	defer file.Close()

	hasher := algorithm.NewFunc()
	buffer := make([]byte, bufferSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, total, fmt.Errorf("hash of %s interrupted: %w", filePath, err)
		}

		n, err := file.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
			total += int64(n)
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, total, ioError(filePath, err)
		}
	}

	return hasher.Sum(nil), total, nil
}

// normaliseAlgorithmName lower-cases and trims a configured algorithm name
func normaliseAlgorithmName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
