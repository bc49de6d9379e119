// Package meta holds application metadata.
package meta

import version "github.com/hashicorp/go-version"

const AppName = "grpcbridge"

var Version = version.Must(version.NewSemver("0.1.0"))
