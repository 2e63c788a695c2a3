package plane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient("https://plane.example.com/api/v1/", "test-key")

	assert.Equal(t, "https://plane.example.com/api/v1", client.BaseURL)
	assert.Equal(t, "test-key", client.APIKey)
	require.NotNil(t, client.HTTPClient)
	assert.Equal(t, DefaultTimeout, client.HTTPClient.Timeout)

	def := NewClient("", "k")
	assert.Equal(t, DefaultBaseURL, def.BaseURL)

	short := client.WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, short.HTTPClient.Timeout)
	assert.Equal(t, DefaultTimeout, client.HTTPClient.Timeout, "original client must be untouched")
}

func TestCreateProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/workspaces/acme/projects/", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Alpha", body["name"])
		assert.Equal(t, "ALPHA", body["identifier"])
		assert.Equal(t, true, body["cycle_view"])
		assert.Equal(t, true, body["module_view"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"proj-1","name":"Alpha","identifier":"ALPHA"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	project, err := client.CreateProject(context.Background(), "acme", NewCreateProjectRequest("Alpha", "ALPHA", ""))
	require.NoError(t, err)
	assert.Equal(t, "proj-1", project.ID)
	assert.Equal(t, "ALPHA", project.Identifier)
}

func TestCreateIssueWithParent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workspaces/acme/projects/proj-1/work-items/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Bug 1a", body["name"])
		assert.Equal(t, "high", body["priority"])
		assert.Equal(t, "issue-1", body["parent"])
		_, hasState := body["state"]
		assert.False(t, hasState, "state must be omitted when unset")

		_, _ = w.Write([]byte(`{"id":"issue-2","name":"Bug 1a","parent":"issue-1"}`))
	}))
	defer server.Close()

	parent := "issue-1"
	client := NewClient(server.URL, "test-key")
	issue, err := client.CreateIssue(context.Background(), "acme", "proj-1", CreateIssueRequest{
		Name:     "Bug 1a",
		Priority: "high",
		Parent:   &parent,
	})
	require.NoError(t, err)
	assert.Equal(t, "issue-2", issue.ID)
	require.NotNil(t, issue.Parent)
	assert.Equal(t, "issue-1", *issue.Parent)
}

func TestLinkIssues(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var body linkIssuesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"issue-1"}, body.Issues)

		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	ctx := context.Background()

	require.NoError(t, client.AddIssuesToCycle(ctx, "acme", "proj-1", "cycle-1", []string{"issue-1"}))
	require.NoError(t, client.AddIssuesToModule(ctx, "acme", "proj-1", "mod-1", []string{"issue-1"}))

	assert.Equal(t, []string{
		"/workspaces/acme/projects/proj-1/cycles/cycle-1/cycle-issues/",
		"/workspaces/acme/projects/proj-1/modules/mod-1/module-issues/",
	}, paths)
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr ErrorClass
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ClassServerError},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ClassUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/workspaces/acme/projects/proj-1/cycles/cycle-1/", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			err := client.DeleteCycle(context.Background(), "acme", "proj-1", "cycle-1")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, ClassOf(err))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusUnauthorized, ClassUnauthorized},
		{http.StatusForbidden, ClassUnauthorized},
		{http.StatusNotFound, ClassNotFound},
		{http.StatusConflict, ClassConflict},
		{http.StatusBadRequest, ClassBadRequest},
		{http.StatusTooManyRequests, ClassBadRequest},
		{http.StatusInternalServerError, ClassServerError},
		{http.StatusBadGateway, ClassServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			_, err := client.CreateModule(context.Background(), "acme", "proj-1", CreateModuleRequest{Name: "Backend"})
			require.Error(t, err)

			var re *RemoteError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.want, re.Class)
			assert.Equal(t, tt.status, re.StatusCode)
			assert.Contains(t, re.Body, "nope")
			assert.True(t, errors.Is(err, &RemoteError{Class: tt.want}))
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "missing id", body: `{"name":"Sprint 1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key")
			_, err := client.CreateCycle(context.Background(), "acme", "proj-1", CreateCycleRequest{Name: "Sprint 1"})
			assert.Equal(t, ClassMalformedResponse, ClassOf(err))
		})
	}
}

func TestUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, "test-key")
	_, err := client.ListProjects(context.Background(), "acme")
	assert.Equal(t, ClassUnreachable, ClassOf(err))
	assert.Error(t, client.Ping(context.Background(), "acme"))
}

func TestListPaginatedAndBare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/workspaces/acme/projects/":
			_, _ = w.Write([]byte(`{"results":[{"id":"p1","name":"Alpha","identifier":"ALPHA"}],"next_page_results":false}`))
		case "/workspaces/acme/members/":
			_, _ = w.Write([]byte(`[{"member":{"id":"u1","email":"a@example.com","display_name":"ann"}},{"id":"u2","display_name":"bo"},{"role":20}]`))
		case "/workspaces/acme/projects/p1/states/":
			_, _ = w.Write([]byte(`{"results":[{"id":"s1","name":"Backlog","group":"backlog"},{"id":"s2","name":"Todo","group":"unstarted"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	ctx := context.Background()

	projects, err := client.ListProjects(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "ALPHA", projects[0].Identifier)

	members, err := client.ListMembers(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "u1", members[0].ID)
	assert.Equal(t, "bo", members[1].DisplayName)

	states, err := client.ListStates(ctx, "acme", "p1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "unstarted", states[1].Group)
}

func TestListFollowsCursor(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)
		switch cursor {
		case "":
			_, _ = w.Write([]byte(`{"results":[{"id":"p1","identifier":"ALPHA"}],"next_cursor":"100:1:0","next_page_results":true}`))
		case "100:1:0":
			_, _ = w.Write([]byte(`{"results":[{"id":"p2","identifier":"BETA"}],"next_cursor":"100:2:0","next_page_results":true}`))
		default:
			_, _ = w.Write([]byte(`{"results":[{"id":"p3","identifier":"GAMMA"}],"next_cursor":"100:3:0","next_page_results":false}`))
		}
	}))
	defer server.Close()

	projects, err := NewClient(server.URL, "test-key").ListProjects(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, projects, 3)
	assert.Equal(t, "GAMMA", projects[2].Identifier)
	assert.Equal(t, []string{"", "100:1:0", "100:2:0"}, cursors)
}

func TestListRepeatedCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"id":"p1"}],"next_cursor":"100:1:0","next_page_results":true}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "test-key").ListProjects(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, ClassMalformedResponse, ClassOf(err))
}

func TestDescriptionHTML(t *testing.T) {
	assert.Equal(t, "", DescriptionHTML(""))
	assert.Equal(t, "<p>a &lt;b&gt;</p>", DescriptionHTML("a <b>"))
}
