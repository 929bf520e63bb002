// Package version хранит сведения о сборке, заданные через -ldflags -X.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// Number возвращает только номер версии: его отдают health-эндпоинты.
func Number() string { return version }

// String — строка для --version утилит.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
}
