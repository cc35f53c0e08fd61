// Package consensus turns independent agent votes into confirmed events.
//
// Every vote is keyed by the fingerprint of its evidence, so agents that
// observe the same real-world event converge on the same key whatever order
// they serialize fields in. An event becomes Sovereign Truth once it has at
// least Quorum votes whose mean confidence reaches Threshold. Confirmation
// is monotonic: a confirmed event stays confirmed.
//
// The mean is compared with Threshold exactly except for its own float
// rounding error, a few units in the last place for realistic vote counts.
// Votes of 0.7, 0.8 and 0.9 confirm at 0.8; a mean of 0.8 - 1e-12 does not.
//
// Falling short of quorum or confidence is an Outcome, not an error. Errors
// are reserved for ledger failures.
package consensus
