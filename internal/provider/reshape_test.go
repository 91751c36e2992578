package provider

import (
	"testing"
	"time"
)

func TestGroupPullsByAuthor(t *testing.T) {
	pulls := []PullRequest{
		{Author: "bob", Number: 1},
		{Author: "alice", Number: 2},
		{Author: "bob", Number: 3},
	}

	got := GroupPullsByAuthor(pulls)
	if len(got) != 2 {
		t.Fatalf("got %d authors, want 2", len(got))
	}
	if got[0].Author != "bob" || len(got[0].Pulls) != 2 {
		t.Errorf("first group = %s with %d pulls, want bob with 2", got[0].Author, len(got[0].Pulls))
	}
	if got[1].Author != "alice" || len(got[1].Pulls) != 1 {
		t.Errorf("second group = %s with %d pulls, want alice with 1", got[1].Author, len(got[1].Pulls))
	}
}

func TestGroupPullsByAuthorTieBreaksOnLogin(t *testing.T) {
	pulls := []PullRequest{
		{Author: "zoe", Number: 1},
		{Author: "amy", Number: 2},
	}

	got := GroupPullsByAuthor(pulls)
	if got[0].Author != "amy" || got[1].Author != "zoe" {
		t.Errorf("tie order = [%s, %s], want [amy, zoe]", got[0].Author, got[1].Author)
	}
}

func TestGroupCommitsByAuthor(t *testing.T) {
	day := func(n int) time.Time { return time.Date(2023, 1, n, 0, 0, 0, 0, time.UTC) }
	commits := []CommitRecord{
		{Author: "alice", SHA: "a1", Date: day(9)},
		{Author: "bob", SHA: "b1", Date: day(10)},
		{Author: "alice", SHA: "a2", Date: day(11)},
	}

	got := GroupCommitsByAuthor(commits)
	if len(got) != 2 {
		t.Fatalf("got %d authors, want 2", len(got))
	}
	if got[0].Author != "alice" || len(got[0].Commits) != 2 {
		t.Errorf("first group = %s with %d commits, want alice with 2", got[0].Author, len(got[0].Commits))
	}
}

func TestParseService(t *testing.T) {
	tests := []struct {
		input   string
		want    Service
		wantErr bool
	}{
		{"github", ServiceGitHub, false},
		{"bitbucket", ServiceBitbucket, false},
		{"gitlab", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseService(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseService(%q) error = nil, want error", tt.input)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseService(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
		}
	}
}
