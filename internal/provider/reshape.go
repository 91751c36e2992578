package provider

import "sort"

// GroupPullsByAuthor reshapes one fetched pull-request list into the
// per-author shape. Authors are ordered by pull count, then login, so the
// output is deterministic regardless of fetch order.
func GroupPullsByAuthor(pulls []PullRequest) []AuthorPulls {
	byAuthor := make(map[string][]PullRequest)
	for _, pr := range pulls {
		byAuthor[pr.Author] = append(byAuthor[pr.Author], pr)
	}

	out := make([]AuthorPulls, 0, len(byAuthor))
	for author, prs := range byAuthor {
		out = append(out, AuthorPulls{Author: author, Pulls: prs})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Pulls) != len(out[j].Pulls) {
			return len(out[i].Pulls) > len(out[j].Pulls)
		}
		return out[i].Author < out[j].Author
	})
	return out
}

// GroupCommitsByAuthor reshapes a flat commit list into per-author groups,
// ordered by commit count, then author.
func GroupCommitsByAuthor(commits []CommitRecord) []RepoCommits {
	byAuthor := make(map[string][]CommitRecord)
	for _, c := range commits {
		byAuthor[c.Author] = append(byAuthor[c.Author], c)
	}

	out := make([]RepoCommits, 0, len(byAuthor))
	for author, cs := range byAuthor {
		out = append(out, RepoCommits{Author: author, Commits: cs})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Commits) != len(out[j].Commits) {
			return len(out[i].Commits) > len(out[j].Commits)
		}
		return out[i].Author < out[j].Author
	})
	return out
}
