package dupwalk

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DigestComputer streams files through the configured hash on the IO pool.
type DigestComputer struct {
	algorithm  *HashAlgorithm
	bufferSize int
	pool       *WorkerPool
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// DigestOptions configures a DigestComputer; zero values select defaults
type DigestOptions struct {
	Algorithm  *HashAlgorithm
	BufferSize int
	Metrics    *Metrics
	Logger     *slog.Logger
}

// NewDigestComputer binds the computer to the IO pool
func NewDigestComputer(pool *WorkerPool, opts DigestOptions) (*DigestComputer, error) {
	algorithm := opts.Algorithm
	if algorithm == nil {
		var err error
		if algorithm, err = GetHashAlgorithm(""); err != nil {
			return nil, err
		}
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultHashBufferBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return &DigestComputer{
		algorithm:  algorithm,
		bufferSize: bufferSize,
		pool:       pool,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// Algorithm returns the hash in use
func (d *DigestComputer) Algorithm() *HashAlgorithm { return d.algorithm }

// Compute reads path to the end and returns its fingerprint stamped with the completion time.
// Read failures wrap ErrIO.
func (d *DigestComputer) Compute(ctx context.Context, path string) (Fingerprint, error) {
	if IsDebugEnabled("digest") {
		VerboseLog(3, "digest: hashing %s", path)
	}

	sum, n, err := HashFileInterruptible(ctx, path, d.algorithm, d.bufferSize)
	d.metrics.BytesHashed.Add(float64(n))
	if err != nil {
		if errors.Is(err, ErrIO) {
			d.metrics.HashErrors.Inc()
			d.logger.Warn("file unreadable", "path", path, "error", err)
		}
		return Fingerprint{}, err
	}

	d.metrics.FilesHashed.Inc()
	return NewFingerprint(sum, d.now()), nil
}

// ComputeAsync runs Compute on the IO pool
func (d *DigestComputer) ComputeAsync(ctx context.Context, path string) *Future[Fingerprint] {
	return Go(d.pool, func() (Fingerprint, error) {
		return d.Compute(ctx, path)
	})
}
