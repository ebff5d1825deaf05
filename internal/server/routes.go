package server

import (
	"net/http"
	"net/url"
	"strings"
)

// route maps one gateway endpoint onto an upstream call.
type route struct {
	// name identifies the endpoint in queue items and audit events.
	name   string
	method string
	// pattern is the gateway path below /{service}.
	pattern string
	// upstream is the upstream path template; {name} segments are filled
	// from the matching path values.
	upstream string
	// query lists the query parameters forwarded when present.
	query []string
	// required lists query parameters that must be present.
	required []string
	// pathQuery maps upstream query parameters to gateway path values.
	pathQuery map[string]string
	// fixed query parameters always sent upstream.
	fixed map[string]string
	// body is true when the endpoint forwards a JSON request body.
	body bool
}

var pageQuery = []string{"page", "pagelen", "q", "sort"}

// serviceRoutes is the gateway surface for each service.
var serviceRoutes = map[string][]route{
	"jira": {
		{name: "create_issue", method: http.MethodPost, pattern: "/issues", upstream: "/rest/api/3/issue", query: []string{"updateHistory"}, body: true},
		{name: "get_issue", method: http.MethodGet, pattern: "/issues/{key}", upstream: "/rest/api/3/issue/{key}", query: []string{"fields", "expand"}},
		{name: "update_issue", method: http.MethodPut, pattern: "/issues/{key}", upstream: "/rest/api/3/issue/{key}", query: []string{"notifyUsers"}, body: true},
		{name: "delete_issue", method: http.MethodDelete, pattern: "/issues/{key}", upstream: "/rest/api/3/issue/{key}", query: []string{"deleteSubtasks"}},
		{name: "get_changelog", method: http.MethodGet, pattern: "/issues/{key}/changelog", upstream: "/rest/api/3/issue/{key}/changelog", query: []string{"startAt", "maxResults"}},
		{name: "search_issues", method: http.MethodPost, pattern: "/search", upstream: "/rest/api/3/search", body: true},
		{name: "list_comments", method: http.MethodGet, pattern: "/issues/{key}/comments", upstream: "/rest/api/3/issue/{key}/comment", query: []string{"startAt", "maxResults", "orderBy"}},
		{name: "add_comment", method: http.MethodPost, pattern: "/issues/{key}/comments", upstream: "/rest/api/3/issue/{key}/comment", body: true},
		{name: "update_comment", method: http.MethodPut, pattern: "/issues/{key}/comments/{id}", upstream: "/rest/api/3/issue/{key}/comment/{id}", body: true},
		{name: "delete_comment", method: http.MethodDelete, pattern: "/issues/{key}/comments/{id}", upstream: "/rest/api/3/issue/{key}/comment/{id}"},
	},
	"bitbucket": {
		{name: "list_repos", method: http.MethodGet, pattern: "/repos/{ws}", upstream: "/repositories/{ws}", query: pageQuery},
		{name: "get_repo", method: http.MethodGet, pattern: "/repos/{ws}/{repo}", upstream: "/repositories/{ws}/{repo}"},
		{name: "list_branches", method: http.MethodGet, pattern: "/repos/{ws}/{repo}/branches", upstream: "/repositories/{ws}/{repo}/refs/branches", query: pageQuery},
		{name: "list_pull_requests", method: http.MethodGet, pattern: "/repos/{ws}/{repo}/pullrequests", upstream: "/repositories/{ws}/{repo}/pullrequests", query: []string{"state", "page", "pagelen"}},
		{name: "create_pull_request", method: http.MethodPost, pattern: "/repos/{ws}/{repo}/pullrequests", upstream: "/repositories/{ws}/{repo}/pullrequests", body: true},
		{name: "get_pull_request", method: http.MethodGet, pattern: "/repos/{ws}/{repo}/pullrequests/{id}", upstream: "/repositories/{ws}/{repo}/pullrequests/{id}"},
		{name: "update_pull_request", method: http.MethodPut, pattern: "/repos/{ws}/{repo}/pullrequests/{id}", upstream: "/repositories/{ws}/{repo}/pullrequests/{id}", body: true},
		{name: "merge_pull_request", method: http.MethodPost, pattern: "/repos/{ws}/{repo}/pullrequests/{id}/merge", upstream: "/repositories/{ws}/{repo}/pullrequests/{id}/merge", body: true},
	},
	"slack": {
		{name: "post_message", method: http.MethodPost, pattern: "/messages", upstream: "/chat.postMessage", body: true},
		{name: "list_channels", method: http.MethodGet, pattern: "/channels", upstream: "/conversations.list", query: []string{"cursor", "limit", "types"}},
		{name: "channel_history", method: http.MethodGet, pattern: "/channels/{id}/history", upstream: "/conversations.history",
			query: []string{"cursor", "limit", "latest", "oldest"}, pathQuery: map[string]string{"channel": "id"}},
		{name: "thread_replies", method: http.MethodGet, pattern: "/channels/{id}/replies", upstream: "/conversations.replies",
			query: []string{"ts", "cursor", "limit"}, required: []string{"ts"}, pathQuery: map[string]string{"channel": "id"}},
	},
	"gmail": {
		{name: "list_messages", method: http.MethodGet, pattern: "/messages", upstream: "/gmail/v1/users/me/messages", query: []string{"q", "maxResults", "pageToken", "labelIds"}},
		{name: "get_message", method: http.MethodGet, pattern: "/messages/{id}", upstream: "/gmail/v1/users/me/messages/{id}", query: []string{"format", "metadataHeaders"}},
		{name: "get_attachment", method: http.MethodGet, pattern: "/messages/{id}/attachments/{aid}", upstream: "/gmail/v1/users/me/messages/{id}/attachments/{aid}"},
		{name: "create_draft", method: http.MethodPost, pattern: "/drafts", upstream: "/gmail/v1/users/me/drafts", body: true},
	},
	"gdrive": {
		{name: "list_files", method: http.MethodGet, pattern: "/files", upstream: "/drive/v3/files", query: []string{"q", "fields", "pageSize", "pageToken", "orderBy"}},
		{name: "get_file", method: http.MethodGet, pattern: "/files/{id}", upstream: "/drive/v3/files/{id}", query: []string{"fields"}},
		{name: "download_file", method: http.MethodGet, pattern: "/files/{id}/download", upstream: "/drive/v3/files/{id}", fixed: map[string]string{"alt": "media"}},
		{name: "create_file", method: http.MethodPost, pattern: "/files", upstream: "/drive/v3/files", query: []string{"fields"}, body: true},
		{name: "update_file", method: http.MethodPatch, pattern: "/files/{id}", upstream: "/drive/v3/files/{id}", query: []string{"addParents", "removeParents", "fields"}, body: true},
	},
	"gcalendar": {
		{name: "list_calendars", method: http.MethodGet, pattern: "/calendars", upstream: "/calendar/v3/users/me/calendarList", query: []string{"maxResults", "pageToken"}},
		{name: "list_events", method: http.MethodGet, pattern: "/calendars/{cal}/events", upstream: "/calendar/v3/calendars/{cal}/events",
			query: []string{"q", "timeMin", "timeMax", "maxResults", "pageToken", "singleEvents", "orderBy"}},
		{name: "create_event", method: http.MethodPost, pattern: "/calendars/{cal}/events", upstream: "/calendar/v3/calendars/{cal}/events", query: []string{"sendUpdates"}, body: true},
		{name: "get_event", method: http.MethodGet, pattern: "/events/{cal}/{ev}", upstream: "/calendar/v3/calendars/{cal}/events/{ev}"},
		{name: "update_event", method: http.MethodPatch, pattern: "/events/{cal}/{ev}", upstream: "/calendar/v3/calendars/{cal}/events/{ev}", query: []string{"sendUpdates"}, body: true},
		{name: "delete_event", method: http.MethodDelete, pattern: "/events/{cal}/{ev}", upstream: "/calendar/v3/calendars/{cal}/events/{ev}", query: []string{"sendUpdates"}},
	},
}

// upstreamPath fills the template's {name} segments from r's path values.
func (rt route) upstreamPath(r *http.Request) string {
	parts := strings.Split(rt.upstream, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			parts[i] = url.PathEscape(r.PathValue(p[1 : len(p)-1]))
		}
	}
	return strings.Join(parts, "/")
}

// params collects the upstream query parameters for r. It returns the name
// of a missing required parameter, if any.
func (rt route) params(r *http.Request) (map[string]string, string) {
	q := r.URL.Query()
	for _, key := range rt.required {
		if q.Get(key) == "" {
			return nil, key
		}
	}

	params := make(map[string]string)
	for _, key := range rt.query {
		if v := q.Get(key); v != "" {
			params[key] = v
		}
	}
	for key, name := range rt.pathQuery {
		params[key] = r.PathValue(name)
	}
	for key, v := range rt.fixed {
		params[key] = v
	}
	if len(params) == 0 {
		return nil, ""
	}
	return params, ""
}
