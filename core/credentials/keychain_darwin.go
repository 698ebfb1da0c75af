//go:build darwin

package credentials

import (
	"os/exec"
	"strings"
)

// darwinKeychain shells out to security(1) for the login keychain.
type darwinKeychain struct{}

func newPlatformKeychain() KeychainProvider {
	return &darwinKeychain{}
}

func (k *darwinKeychain) Available() bool {
	_, err := exec.LookPath("security")
	return err == nil
}

func (k *darwinKeychain) Get(service, account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password",
		"-s", service, "-a", account, "-w").Output()
	if err != nil {
		return "", ErrNoCredential
	}
	return strings.TrimSpace(string(out)), nil
}

func (k *darwinKeychain) Set(service, account, secret string) error {
	// -U updates an existing item in place
	return exec.Command("security", "add-generic-password",
		"-s", service, "-a", account, "-w", secret, "-U").Run()
}

func (k *darwinKeychain) Delete(service, account string) error {
	return exec.Command("security", "delete-generic-password",
		"-s", service, "-a", account).Run()
}
