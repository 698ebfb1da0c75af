//go:build windows

package credentials

import "errors"

// windowsKeychain is a placeholder until Credential Manager support lands;
// the encrypted file store is used instead.
type windowsKeychain struct{}

func newPlatformKeychain() KeychainProvider {
	return &windowsKeychain{}
}

var errNoKeychain = errors.New("windows credential manager not supported")

func (k *windowsKeychain) Available() bool {
	return false
}

func (k *windowsKeychain) Get(service, account string) (string, error) {
	return "", errNoKeychain
}

func (k *windowsKeychain) Set(service, account, secret string) error {
	return errNoKeychain
}

func (k *windowsKeychain) Delete(service, account string) error {
	return errNoKeychain
}
