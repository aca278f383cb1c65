package services

import (
	"cmp"
	"slices"

	"github.com/observach/apiserver/types"
)

// commentFilter decides which comments a view may show.
type commentFilter func(types.Comment) bool

func approvedComments(c types.Comment) bool { return c.Status == types.StatusApproved }

func allComments(types.Comment) bool { return true }

// newestFirst orders by creation time, most recent first. The sort is
// stable, so equal timestamps keep the insertion order the store returned.
func newestFirst[T any](items []T, createdAt func(T) int64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(createdAt(b), createdAt(a))
	})
}

// assembleBundles joins observations with their comments and votes as seen by
// viewer. Inputs are expected in insertion order.
func assembleBundles(
	observations []types.Observation,
	comments []types.Comment,
	votes []types.Vote,
	viewer types.Actor,
	keep commentFilter,
) []types.Bundle {
	commentsByObs := make(map[string][]types.Comment, len(observations))
	for _, c := range comments {
		if keep(c) {
			commentsByObs[c.ObservationID] = append(commentsByObs[c.ObservationID], c)
		}
	}
	votesByObs := make(map[string][]types.Vote, len(observations))
	for _, v := range votes {
		votesByObs[v.ObservationID] = append(votesByObs[v.ObservationID], v)
	}

	ordered := slices.Clone(observations)
	newestFirst(ordered, func(o types.Observation) int64 { return o.CreatedAt.UnixNano() })

	bundles := make([]types.Bundle, 0, len(ordered))
	for _, obs := range ordered {
		visible := commentsByObs[obs.ID]
		if visible == nil {
			visible = []types.Comment{}
		}
		newestFirst(visible, func(c types.Comment) int64 { return c.CreatedAt.UnixNano() })

		tally, mine := tallyVotes(votesByObs[obs.ID], viewer.ID)
		bundles = append(bundles, types.Bundle{
			Observation: obs,
			Comments:    visible,
			Votes:       tally,
			MyVote:      mine,
		})
	}
	return bundles
}

// tallyVotes partitions voter ids by value and picks out viewerID's vote.
func tallyVotes(votes []types.Vote, viewerID string) (types.VoteTally, *types.VoteValue) {
	tally := types.VoteTally{Coherent: []string{}, Incoherent: []string{}}
	var mine *types.VoteValue
	for _, v := range votes {
		switch v.Value {
		case types.VoteCoherent:
			tally.Coherent = append(tally.Coherent, v.VoterID)
		case types.VoteIncoherent:
			tally.Incoherent = append(tally.Incoherent, v.VoterID)
		}
		if viewerID != "" && v.VoterID == viewerID {
			value := v.Value
			mine = &value
		}
	}
	return tally, mine
}
