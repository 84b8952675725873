package build

import (
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// headCommit resolves the HEAD commit SHA of the repository at dir.
// Directories that are not repositories, or repositories with no
// commits yet, yield an empty SHA rather than an error: provenance is
// best effort.
func headCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", err
	}

	return head.Hash().String(), nil
}
