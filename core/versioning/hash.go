package versioning

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// BlobHash returns the git blob SHA of content, the same identifier the
// repository API reports as a file's sha.
func BlobHash(content string) string {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content)).String()
}

// ShortHash abbreviates a SHA for display.
func ShortHash(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
