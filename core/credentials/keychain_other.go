//go:build !darwin && !windows

package credentials

import "errors"

type unavailableKeychain struct{}

func newPlatformKeychain() KeychainProvider {
	return unavailableKeychain{}
}

var errNoKeychain = errors.New("no keychain on this platform")

func (unavailableKeychain) Available() bool { return false }

func (unavailableKeychain) Get(string, string) (string, error) { return "", errNoKeychain }

func (unavailableKeychain) Set(string, string, string) error { return errNoKeychain }

func (unavailableKeychain) Delete(string, string) error { return errNoKeychain }
