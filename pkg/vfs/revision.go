package vfs

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/fruitsalade/repostream/internal/logging"
	"github.com/fruitsalade/repostream/pkg/gitinfo"
)

var commitID = regexp.MustCompile(`^[0-9a-f]{40}$`)

// resolveRevision pins the commit the mount serves. An explicit revision
// must exist remotely. Otherwise the local HEAD commit is preferred, then
// the local branch, then the remote default branch.
func (f *FS) resolveRevision(ctx context.Context, explicit, defaultBranch string) (string, error) {
	if explicit != "" {
		id, err := f.pinExplicit(ctx, explicit)
		if err != nil {
			return "", &RevisionError{Revision: explicit, Err: err}
		}
		return id, nil
	}

	head, err := gitinfo.ReadHead(f.root)
	if err != nil {
		logging.Debug("no local HEAD, using remote default branch", zap.Error(err))
	}

	if head.Commit != "" {
		ok, err := f.commitExists(ctx, head.Commit)
		if err != nil {
			return "", &RevisionError{Revision: head.Commit, Err: err}
		}
		if ok {
			return head.Commit, nil
		}
		logging.Info("local HEAD commit not pushed", zap.String("commit", head.Commit))
	}

	if head.Branch != "" {
		id, err := f.branchCommit(ctx, head.Branch)
		if err == nil {
			return id, nil
		}
		if !isRemoteNotFound(err) {
			return "", &RevisionError{Revision: head.Branch, Err: err}
		}
		logging.Info("local branch missing on remote", zap.String("branch", head.Branch))
	}

	if defaultBranch == "" {
		return "", &RevisionError{Err: errors.New("repository has no default branch")}
	}
	id, err := f.branchCommit(ctx, defaultBranch)
	if err != nil {
		return "", &RevisionError{Revision: defaultBranch, Err: err}
	}
	logging.Info("using default branch", zap.String("branch", defaultBranch), zap.String("commit", id))
	return id, nil
}

func (f *FS) pinExplicit(ctx context.Context, rev string) (string, error) {
	if commitID.MatchString(rev) {
		ok, err := f.commitExists(ctx, rev)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.New("commit does not exist on remote")
		}
		return rev, nil
	}

	id, err := f.branchCommit(ctx, rev)
	if err == nil {
		return id, nil
	}
	if !isRemoteNotFound(err) {
		return "", err
	}

	commit, err := f.api.GetCommit(ctx, rev)
	if err != nil {
		if isRemoteNotFound(err) {
			return "", errors.New("no branch or commit with that name on remote")
		}
		return "", err
	}
	return commit.ID, nil
}

func (f *FS) commitExists(ctx context.Context, id string) (bool, error) {
	if _, err := f.api.GetCommit(ctx, id); err != nil {
		if isRemoteNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FS) branchCommit(ctx context.Context, name string) (string, error) {
	branch, err := f.api.GetBranch(ctx, name)
	if err != nil {
		return "", err
	}
	if branch.Commit.ID == "" {
		return "", fmt.Errorf("branch %s has no commit", name)
	}
	return branch.Commit.ID, nil
}
