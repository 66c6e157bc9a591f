//go:build !cgo

package backend

import "fmt"

// errNoCGO is returned when PKCS#11 operations are attempted without CGO.
var errNoCGO = fmt.Errorf("HSM support requires CGO (build with CGO_ENABLED=1)")

func newPKCS11(_ *Config) (Backend, error) {
	return nil, errNoCGO
}

// ListPKCS11Slots lists the slots of a PKCS#11 module.
// This stub returns an error when CGO is not available.
func ListPKCS11Slots(_ string) ([]SlotInfo, error) {
	return nil, errNoCGO
}
