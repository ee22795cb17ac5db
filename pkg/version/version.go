// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.
package version

import (
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"
)

// ParseVersion wraps semver.NewVersion and accepts the "v" prefix servers put
// on their build tags. An empty tag is reported as 0.0.0.
func ParseVersion(v string) (*semver.Version, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return semver.New("0.0.0"), nil
	}
	if v[0] == 'v' {
		v = v[1:]
	}
	ver, err := semver.NewVersion(v)
	return ver, errors.WithStack(err)
}

// AtLeast reports whether the server tag is not older than minVersion.
func AtLeast(tag, minVersion string) (bool, error) {
	got, err := ParseVersion(tag)
	if err != nil {
		return false, errors.WithMessagef(err, "parse server version %q", tag)
	}
	want, err := ParseVersion(minVersion)
	if err != nil {
		return false, errors.WithMessagef(err, "parse version %q", minVersion)
	}
	return !got.LessThan(*want), nil
}
