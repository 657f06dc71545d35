package artifact

import "errors"

// ErrIo is returned when a Handle materialization step cannot reach any
// backing source (local file missing, remote object unreachable).
var ErrIo = errors.New("artifact: io error")

// ErrDecoder is returned when materialized bytes fail to decode as an
// image.
var ErrDecoder = errors.New("artifact: decoder error")
