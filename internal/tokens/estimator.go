// Package tokens provides token estimation utilities using tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// DefaultEncoding is cl100k_base, a reasonable approximation for both
// GPT and Claude family models.
const DefaultEncoding = "cl100k_base"

// Estimator counts tokens with tiktoken, falling back to chars/4 when the
// encoding tables are unavailable (e.g. offline first run).
type Estimator struct {
	encoding *tiktoken.Tiktoken
}

var (
	globalEstimator *Estimator
	globalOnce      sync.Once
)

// Get returns the global estimator singleton.
func Get() *Estimator {
	globalOnce.Do(func() {
		est, err := New()
		if err != nil {
			L_warn("tokens: estimator init failed, using chars/4 fallback", "error", err)
			est = &Estimator{}
		}
		globalEstimator = est
	})
	return globalEstimator
}

// New creates an estimator with the default encoding.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for a string.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// Estimate counts tokens with the global estimator.
func Estimate(text string) int {
	return Get().Count(text)
}

// RoughEstimate is the chars/4 heuristic used where a cheap, deterministic
// estimate matters more than accuracy (recall block budgeting).
func RoughEstimate(text string) int {
	return len(text) / 4
}
