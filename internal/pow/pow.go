// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pow solves the hashcash-style proof-of-work challenges that the
// identity service attaches to credential grants.
package pow

import (
	"context"
	"strconv"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/sha3"
)

// Algorithm is the only proof-of-work algorithm the identity service issues.
const Algorithm = "hashcash"

// maxComplexity is the number of hex digits in a 512-bit digest.
const maxComplexity = 128

// cancelCheckInterval is how many nonces are tried between context checks.
const cancelCheckInterval = 1 << 12

// Challenge is a proof-of-work descriptor as received from the identity
// service. Version and Timestamp keep their wire spelling.
type Challenge struct {
	AlgorithmName    string
	AlgorithmVersion string
	Complexity       int
	Timestamp        string
	Resource         string
	Extension        string
	RandomString     string
}

// Canonical returns the string every candidate nonce is appended to.
func (c Challenge) Canonical() string {
	return c.AlgorithmVersion + ":" +
		strconv.Itoa(c.Complexity) + ":" +
		c.Timestamp + ":" +
		c.Resource + ":" +
		c.Extension + ":" +
		c.RandomString + ":"
}

// Recorder receives solve statistics.
type Recorder interface {
	RecordProofOfWork(iterations uint64, elapsed time.Duration)
}

// Solver finds nonces for challenges.
type Solver struct {
	// MaxIterations caps the search. Zero means unbounded; the context
	// still bounds it.
	MaxIterations uint64
	Recorder      Recorder
}

// NewSolver creates a solver with the given iteration cap.
func NewSolver(maxIterations uint64, recorder Recorder) *Solver {
	return &Solver{MaxIterations: maxIterations, Recorder: recorder}
}

// Solve returns the smallest nonce whose Keccak-512 hex digest of
// canonical+nonce starts with Complexity zeros. It is CPU bound and
// returns early only when ctx is done or MaxIterations is reached.
func (s *Solver) Solve(ctx context.Context, c Challenge) (uint64, error) {
	if c.AlgorithmName != Algorithm {
		return 0, oops.Code("CONFIG_UNSUPPORTED_POW").
			With("algorithm", c.AlgorithmName).
			Errorf("unsupported proof-of-work algorithm %q", c.AlgorithmName)
	}
	if c.Complexity < 0 || c.Complexity > maxComplexity {
		return 0, oops.Code("CONFIG_INVALID_POW_COMPLEXITY").
			With("complexity", c.Complexity).
			Errorf("proof-of-work complexity out of range")
	}

	start := time.Now()
	h := sha3.NewLegacyKeccak512()
	prefix := []byte(c.Canonical())
	buf := make([]byte, 0, len(prefix)+20)
	sum := make([]byte, 0, h.Size())

	var nonce uint64
	for {
		if s.MaxIterations > 0 && nonce >= s.MaxIterations {
			s.record(nonce, start)
			return 0, oops.Code("POW_EXHAUSTED").
				With("max_iterations", s.MaxIterations).
				With("complexity", c.Complexity).
				Errorf("no nonce found within iteration budget")
		}
		if nonce%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				s.record(nonce, start)
				return 0, oops.Code("POW_CANCELLED").
					With("iterations", nonce).
					Wrap(err)
			}
		}

		buf = strconv.AppendUint(append(buf[:0], prefix...), nonce, 10)
		h.Reset()
		//nolint:errcheck // hash.Hash.Write never returns an error
		h.Write(buf)
		sum = h.Sum(sum[:0])

		if LeadingZeroDigits(sum, c.Complexity) {
			s.record(nonce+1, start)
			return nonce, nil
		}
		nonce++
	}
}

func (s *Solver) record(iterations uint64, start time.Time) {
	if s.Recorder != nil {
		s.Recorder.RecordProofOfWork(iterations, time.Since(start))
	}
}

// LeadingZeroDigits reports whether the hex encoding of digest starts with
// at least n '0' characters.
func LeadingZeroDigits(digest []byte, n int) bool {
	if n > len(digest)*2 {
		return false
	}
	for i := 0; i < n; i++ {
		b := digest[i/2]
		if i%2 == 0 {
			b >>= 4
		}
		if b&0x0f != 0 {
			return false
		}
	}
	return true
}

// Verify reports whether nonce satisfies c.
func Verify(c Challenge, nonce uint64) bool {
	h := sha3.NewLegacyKeccak512()
	//nolint:errcheck // hash.Hash.Write never returns an error
	h.Write(strconv.AppendUint([]byte(c.Canonical()), nonce, 10))
	return LeadingZeroDigits(h.Sum(nil), c.Complexity)
}
