package commit

import (
	"github.com/google/uuid"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
)

const (
	TitleCommit      = "Commit"
	TitleCommitError = "Commit Error"

	msgSeeChanges = " Open the link to see the changes, then choose one of the following."
	msgForkOffer  = " Do you want to commit on your own copy of this repository?"
)

// conflictDecision offers the ways out of a divergent commit. The user's
// content is already stored in the fallback commit.
func conflictDecision(m *merge.Outcome) *host.Decision {
	body := m.Message()
	link := m.DiffReference
	if link != "" {
		body += msgSeeChanges
	}

	clean := m.Classification == merge.Clean
	return &host.Decision{
		ID:    uuid.NewString(),
		Kind:  host.DecisionConflict,
		Title: TitleCommit,
		Body:  body,
		Link:  link,
		Options: []host.Option{
			{
				Choice:      host.ChoiceMerge,
				Label:       "Merge and commit",
				Description: "All changes will be merged into one file and committed afterwards.",
				Default:     clean,
			},
			{
				Choice:      host.ChoiceNewBranch,
				Label:       "Commit on a new branch",
				Description: "A new branch will be created and your version will be committed there.",
				Default:     !clean,
			},
			{
				Choice:      host.ChoiceOverwrite,
				Label:       "Commit only my changes",
				Description: "Only your changes will be committed, discarding any other changes.",
			},
			{
				Choice:      host.ChoiceCancel,
				Label:       "Cancel",
				Description: "Nothing else is committed. Your edit stays in the working copy.",
			},
		},
	}
}

func forkDecision() *host.Decision {
	return &host.Decision{
		ID:    uuid.NewString(),
		Kind:  host.DecisionForkOffer,
		Title: TitleCommitError,
		Body:  derrors.MsgNoCommitRights + msgForkOffer,
		Options: []host.Option{
			{Choice: host.ChoiceFork, Label: "Yes", Description: "Fork the repository and commit there.", Default: true},
			{Choice: host.ChoiceCancel, Label: "No"},
		},
	}
}
