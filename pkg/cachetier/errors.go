package cachetier

import "errors"

// ErrOversizeRejected is returned by Add when the handle is larger than
// 10% of the tier's size bound. Not fatal: the caller (Master) falls
// through to the next tier.
var ErrOversizeRejected = errors.New("cachetier: oversize rejected")

// ErrInsecureCacheDir is returned at local-file tier startup when the
// configured directory has group/other permission bits, or is not
// accessible.
var ErrInsecureCacheDir = errors.New("cachetier: insecure cache directory")

// ErrInternalTierError is returned when a clean pass could not bring the
// tier within its bounds and the medium has no recovery strategy.
var ErrInternalTierError = errors.New("cachetier: internal tier error")

// ErrNoSuccessorTier is returned by an internal write-back attempt when
// the tier has no configured successor for the entry's retention class.
var ErrNoSuccessorTier = errors.New("cachetier: no successor tier for write-back")

// ErrEvictionDisabled names the condition of a tier configured with no
// eviction (the remote-store tier). Clean on such a tier returns nil
// without evicting anything; no function in this package returns this
// value.
var ErrEvictionDisabled = errors.New("cachetier: eviction disabled on this tier")
