package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func TestMembersViaGraphQL(t *testing.T) {
	f := newFixture(t)
	pages := 0
	f.mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode GraphQL request: %v", err)
		}
		if req.Variables["login"] != "acme" {
			t.Errorf("login variable = %v, want acme", req.Variables["login"])
		}
		pages++
		if pages == 1 {
			fmt.Fprint(w, `{"data": {"organization": {"membersWithRole": {
				"nodes": [{"login": "alice", "name": "Alice Smith", "avatarUrl": "a.png"}],
				"pageInfo": {"hasNextPage": true, "endCursor": "CUR1"}
			}}}}`)
			return
		}
		if req.Variables["cursor"] != "CUR1" {
			t.Errorf("cursor variable = %v, want CUR1", req.Variables["cursor"])
		}
		fmt.Fprint(w, `{"data": {"organization": {"membersWithRole": {
			"nodes": [{"login": "bob", "name": "", "avatarUrl": "b.png"}],
			"pageInfo": {"hasNextPage": false, "endCursor": ""}
		}}}}`)
	})

	members, err := f.client(t).Members(context.Background())
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].Name != "Alice Smith" {
		t.Errorf("first member name = %q, want %q", members[0].Name, "Alice Smith")
	}
	// A member without a full name falls back to the login.
	if members[1].Name != "bob" {
		t.Errorf("second member name = %q, want %q", members[1].Name, "bob")
	}
}

func TestMembersFallsBackWhenQueryRejected(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		// Restricted orgs reject the query inside a 200 response.
		fmt.Fprint(w, `{"data": null, "errors": [{"type": "FORBIDDEN", "message": "third-party application access restricted"}]}`)
	})
	f.mux.HandleFunc("/orgs/acme/members", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"login": "alice", "avatar_url": "a.png"}, {"login": "bob", "avatar_url": "b.png"}]`)
	})

	members, err := f.client(t).Members(context.Background())
	if err != nil {
		t.Fatalf("Members() error = %v (fallback must be transparent)", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	// The fallback listing carries logins as names; the shape is otherwise
	// identical, so callers cannot observe which path answered.
	if members[0].Login != "alice" || members[0].Name != "alice" {
		t.Errorf("fallback member = %+v, want login-as-name", members[0])
	}
}

const pullsFixture = `{
	"nodes": [
		{
			"author": {"login": "alice"},
			"title": "Add widget",
			"number": 41,
			"createdAt": "2023-01-09T10:00:00Z",
			"mergedAt": "2023-01-11T10:00:00Z",
			"closedAt": "2023-01-11T10:00:00Z",
			"state": "MERGED",
			"url": "https://example.com/41",
			"comments": {"nodes": [{"author": {"login": "bob"}, "body": "lgtm", "createdAt": "2023-01-10T00:00:00Z"}]},
			"commits": {"nodes": [{"commit": {"oid": "abc123", "messageHeadline": "Add widget"}}]}
		},
		{
			"author": null,
			"title": "Ancient cleanup",
			"number": 7,
			"createdAt": "2022-06-01T00:00:00Z",
			"mergedAt": null,
			"closedAt": "2022-06-02T00:00:00Z",
			"state": "CLOSED",
			"url": "https://example.com/7",
			"comments": {"nodes": []},
			"commits": {"nodes": []}
		}
	]
}`

func TestPullsFiltersWindowAndGroupsByAuthor(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": {"repository": {"pullRequests": %s}}}`, pullsFixture)
	})

	groups, err := f.client(t).Pulls(context.Background(), "widget")
	if err != nil {
		t.Fatalf("Pulls() error = %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d author groups, want 1 (the 2022 PR is out of window)", len(groups))
	}
	if groups[0].Author != "alice" || len(groups[0].Pulls) != 1 {
		t.Fatalf("group = %s with %d pulls", groups[0].Author, len(groups[0].Pulls))
	}

	pr := groups[0].Pulls[0]
	if pr.Number != 41 || pr.State != "MERGED" {
		t.Errorf("pull = %+v", pr)
	}
	if len(pr.Comments) != 1 || pr.Comments[0].Author != "bob" {
		t.Errorf("comments = %+v", pr.Comments)
	}
	if len(pr.Commits) != 1 || pr.Commits[0].SHA != "abc123" {
		t.Errorf("commits = %+v", pr.Commits)
	}
}

func TestPRActivityGroupsByRepo(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": {"organization": {"repositories": {"nodes": [
			{"name": "widget", "pullRequests": %s},
			{"name": "idle", "pullRequests": {"nodes": []}}
		]}}}}`, pullsFixture)
	})

	activity, err := f.client(t).PRActivity(context.Background())
	if err != nil {
		t.Fatalf("PRActivity() error = %v", err)
	}
	// Repos without in-window pull requests are omitted.
	if len(activity) != 1 {
		t.Fatalf("got %d repos, want 1", len(activity))
	}
	if activity[0].Repo != "widget" || len(activity[0].Pulls) != 1 {
		t.Errorf("activity = %+v", activity)
	}
}

func TestGraphQLErrorInsideOKResponse(t *testing.T) {
	f := newFixture(t)
	f.mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": null, "errors": [{"message": "Something went wrong"}]}`)
	})

	if _, err := f.client(t).PRActivity(context.Background()); err == nil {
		t.Error("PRActivity() error = nil, want the body-level GraphQL error surfaced")
	}
}
