// Package version описывает сборку сервиса. Значения задаются через -ldflags:
//
//	-X github.com/vladislavdragonenkov/dealership/internal/version.version=v1.4.0
package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build: версия, коммит и время сборки.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке. Если коммит и дата не заданы через
// -ldflags, они берутся из VCS-меток, которые go build кладёт в бинарник.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withVCS(info.Settings)
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = s.Value
			}
		}
	}
	return b
}

func (b Build) String() string {
	return fmt.Sprintf("%s (%s, %s)", b.Version, b.Commit, b.Date)
}

// Fields: сведения о сборке для стартового лога.
func Fields() log.Fields {
	b := Current()
	return log.Fields{"version": b.Version, "commit": b.Commit, "built": b.Date}
}
