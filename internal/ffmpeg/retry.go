package ffmpeg

// RetryState tracks consecutive failed attempts of the same operation. A
// successful attempt resets it. MaxAttempts of 0 allows unlimited attempts.
type RetryState struct {
	Attempt     int
	MaxAttempts int

	// Last is the category of the most recent failure.
	Last Category
}

// NewRetryState returns a RetryState allowing maxAttempts consecutive
// failures.
func NewRetryState(maxAttempts int) *RetryState {
	return &RetryState{MaxAttempts: maxAttempts}
}

// Advance records a failed attempt classified as cat and reports whether
// another attempt is allowed.
func (s *RetryState) Advance(cat Category) bool {
	s.Attempt++
	s.Last = cat
	return !s.Exhausted()
}

// Exhausted reports whether the failure budget is used up.
func (s *RetryState) Exhausted() bool {
	return s.MaxAttempts > 0 && s.Attempt >= s.MaxAttempts
}

// Reset clears the failure count after a successful attempt.
func (s *RetryState) Reset() {
	s.Attempt = 0
	s.Last = Unknown
}
