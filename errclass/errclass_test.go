// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestNew(t *testing.T) {
	// testcase is a test case implemented by this function.
	type testcase struct {
		input  error
		expect string
	}

	// start with a test case for the nil error
	var tests = []testcase{
		{
			input:  nil,
			expect: "",
		},
	}

	// add tests for cases we can test with errors.Is
	for _, entry := range classes {
		tests = append(tests, testcase{
			input:  fmt.Errorf("some context: %w", entry.err),
			expect: entry.class,
		})
	}

	// resource errors keep their class even when wrapping an errno
	tests = append(tests, testcase{
		input:  fmt.Errorf("%w: socket: %w", ErrResourceAcquisition, unix.EPERM),
		expect: ERESOURCE_ACQUISITION,
	})

	// add tests for the fallback classifier
	tests = append(tests, testcase{
		input:  context.DeadlineExceeded,
		expect: ETIMEDOUT,
	})
	tests = append(tests, testcase{
		input:  errors.New("unknown error"),
		expect: EGENERIC,
	})

	// run all tests
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.input), func(t *testing.T) {
			got := New(tt.input)
			if got != tt.expect {
				t.Errorf("New(%v) = %v; want %v", tt.input, got, tt.expect)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		expect int
	}{
		{"wrapped errno", fmt.Errorf("%w: mlockall: %w", ErrResourceAcquisition, unix.ENOMEM), int(unix.ENOMEM)},
		{"config", fmt.Errorf("%w: cycle time", ErrConfigInvalid), int(unix.EINVAL)},
		{"resolution", ErrResolution, int(unix.ENODEV)},
		{"drain", ErrDrainTimeout, int(unix.ETIMEDOUT)},
		{"other", errors.New("boom"), int(unix.EIO)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, text := Describe(tt.input)
			assert.Equal(t, tt.expect, code)
			assert.Equal(t, unix.Errno(tt.expect).Error(), text)
		})
	}
}
