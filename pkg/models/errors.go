package models

import "fmt"

func errAccountf(format string, args ...any) error {
	return fmt.Errorf("invalid account: "+format, args...)
}
