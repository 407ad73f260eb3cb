/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package version holds the app.name / app.version identity printed at
// startup (§6.6) and in the forwarder's banner.
package version

import (
	"fmt"
	"io"
)

const (
	Name         = "privdetect"
	MajorVersion = 1
	MinorVersion = 0
	PointVersion = 0
)

func String() string {
	return fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PointVersion)
}

func PrintVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "%s version %s\n", Name, String())
}
