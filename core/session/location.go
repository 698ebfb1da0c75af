package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adalundhe/docsync/core/remote"
)

// Location names a file in a repository: owner/repo/branch/path. A branch
// containing '/' is percent-encoded ("feature%2Fx").
type Location struct {
	Owner  string
	Repo   string
	Branch string
	Path   string
}

// ParseLocation splits "owner/repo/branch/path...". A leading "github://"
// or "/" is ignored.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimPrefix(s, "github://")
	s = strings.TrimPrefix(s, "/")

	parts := strings.SplitN(s, "/", 4)
	if len(parts) < 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return Location{}, fmt.Errorf("invalid location %q: want owner/repo/branch/path", s)
	}

	branch, err := url.PathUnescape(parts[2])
	if err != nil {
		return Location{}, fmt.Errorf("invalid branch in %q: %w", s, err)
	}
	return Location{
		Owner:  parts[0],
		Repo:   parts[1],
		Branch: branch,
		Path:   strings.TrimSuffix(parts[3], "/"),
	}, nil
}

func (l Location) String() string {
	return l.Owner + "/" + l.Repo + "/" + url.PathEscape(l.Branch) + "/" + l.Path
}

func (l Location) RepoRef() remote.RepoRef {
	return remote.RepoRef{Owner: l.Owner, Name: l.Repo}
}
