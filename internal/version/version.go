// Package version хранит метаданные сборки checkout-service. Значения
// проставляются при сборке через -ldflags "-X .../internal/version.version=v1.2.0".
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает метаданные текущей сборки.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}

// GetVersion возвращает версию для health-ответов.
func GetVersion() string { return version }

// Fields возвращает версию в виде полей для стартового лога.
func Fields() log.Fields {
	b := Current()
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}
