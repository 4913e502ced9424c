// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package errclass implements error classification.

The general idea is to classify golang errors to an enum of strings
with names resembling standard Unix error names.

# Design Principles

1. Preserve original error in `err` in the structured logs.

2. Add the classified error as the `errClass` field.

3. Use [errors.Is] and [errors.As] for classification.

4. Wrap the sentinels defined here using `%w` so that the kind of
failure survives the context added along the way.

5. Map the nil error to an empty string.

# Traffic Generator Errors

- [ECONFIG_INVALID] for [ErrConfigInvalid]

- [ERESOURCE_ACQUISITION] for [ErrResourceAcquisition]

- [EDECODE_MALFORMED] for [ErrDecodeMalformed]

- [EDEADLINE_MISSED] for [ErrDeadlineMissed]

- [EINVALID_TXPARAMS] for [ErrInvalidTxParams]

- [EDRAIN_TIMEOUT] for [ErrDrainTimeout]

- [ERESOLUTION] for [ErrResolution]

- [EQUERY] for [ErrQuery]

- [ENOT_SYNCHRONIZED] for [ErrNotSynchronized]

# Fallback

Other errors are classified using [errclass.New] from the
`github.com/rbmk-project/common/errclass` package, which maps
system errors such as [ETIMEDOUT] and [EINTR] and otherwise
returns [EGENERIC].
*/
package errclass

import (
	"errors"

	"github.com/rbmk-project/common/errclass"
)

var (
	// ErrConfigInvalid indicates an invalid run configuration.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrResourceAcquisition indicates a failure to set up a socket,
	// an ioctl, memory locking or timestamping.
	ErrResourceAcquisition = errors.New("resource acquisition failed")

	// ErrDecodeMalformed indicates short or malformed data.
	ErrDecodeMalformed = errors.New("malformed data")

	// ErrDeadlineMissed indicates the kernel dropped a frame because
	// its scheduled departure time had passed.
	ErrDeadlineMissed = errors.New("missed deadline")

	// ErrInvalidTxParams indicates the kernel dropped a frame because
	// of invalid scheduled transmission parameters.
	ErrInvalidTxParams = errors.New("invalid transmission parameters")

	// ErrDrainTimeout indicates that transmit timestamps were still
	// outstanding when the drain phase timed out.
	ErrDrainTimeout = errors.New("timed out waiting for transmit timestamps")

	// ErrResolution indicates that no port matched an interface.
	ErrResolution = errors.New("no such device")

	// ErrQuery indicates a failed or malformed management query.
	ErrQuery = errors.New("management query failed")

	// ErrNotSynchronized indicates a port that is not synchronized.
	ErrNotSynchronized = errors.New("port not synchronized")
)

const (
	//
	// Errors that we map using the sentinels above:
	//

	// ECONFIG_INVALID is the invalid configuration error.
	ECONFIG_INVALID = "ECONFIG_INVALID"

	// ERESOURCE_ACQUISITION is the resource acquisition error.
	ERESOURCE_ACQUISITION = "ERESOURCE_ACQUISITION"

	// EDECODE_MALFORMED is the malformed data error.
	EDECODE_MALFORMED = "EDECODE_MALFORMED"

	// EDEADLINE_MISSED is the missed transmission deadline error.
	EDEADLINE_MISSED = "EDEADLINE_MISSED"

	// EINVALID_TXPARAMS is the invalid transmission parameters error.
	EINVALID_TXPARAMS = "EINVALID_TXPARAMS"

	// EDRAIN_TIMEOUT is the drain timeout error.
	EDRAIN_TIMEOUT = "EDRAIN_TIMEOUT"

	// ERESOLUTION is the port resolution error.
	ERESOLUTION = "ERESOLUTION"

	// EQUERY is the management query error.
	EQUERY = "EQUERY"

	// ENOT_SYNCHRONIZED is the unsynchronized port error.
	ENOT_SYNCHRONIZED = "ENOT_SYNCHRONIZED"

	//
	// System errors:
	//

	// EINTR is the interrupted system call error.
	EINTR = errclass.EINTR

	// EINVAL is the invalid argument error.
	EINVAL = errclass.EINVAL

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = errclass.ETIMEDOUT

	// EEOF indicates an unexpected EOF.
	EEOF = errclass.EEOF

	//
	// Fallback errors:
	//

	// EGENERIC is the generic, unclassified error.
	EGENERIC = errclass.EGENERIC
)

// classes maps sentinels to classes, most specific first.
var classes = []struct {
	err   error
	class string
}{
	{ErrConfigInvalid, ECONFIG_INVALID},
	{ErrDrainTimeout, EDRAIN_TIMEOUT},
	{ErrDeadlineMissed, EDEADLINE_MISSED},
	{ErrInvalidTxParams, EINVALID_TXPARAMS},
	{ErrDecodeMalformed, EDECODE_MALFORMED},
	{ErrResolution, ERESOLUTION},
	{ErrQuery, EQUERY},
	{ErrNotSynchronized, ENOT_SYNCHRONIZED},
	{ErrResourceAcquisition, ERESOURCE_ACQUISITION},
}

// New returns the class of err, or the empty string for nil.
func New(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range classes {
		if errors.Is(err, entry.err) {
			return entry.class
		}
	}
	return errclass.New(err)
}
