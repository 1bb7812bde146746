package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/spf13/cast"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type issue struct {
	Key    string                 `json:"key"`
	Fields map[string]interface{} `json:"fields"`
}

type searchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []issue `json:"issues"`
}

type subResource struct {
	ID               string      `json:"id"`
	Body             string      `json:"body,omitempty"`
	Comment          string      `json:"comment,omitempty"`
	TimeSpentSeconds int         `json:"timeSpentSeconds,omitempty"`
	Started          string      `json:"started,omitempty"`
	Author           *authorInfo `json:"author,omitempty"`
}

type authorInfo struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type subResourceList struct {
	Comments []subResource `json:"comments"`
	Worklogs []subResource `json:"worklogs"`
}

type fieldInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Schema struct {
		Type string `json:"type"`
	} `json:"schema"`
}

func (js *JiraStore) createHttpClient(ctx context.Context) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	if js.retryMax > 0 {
		retryClient.RetryMax = js.retryMax
	}

	base := retryClient.StandardClient()

	if js.AuthType == AUTH_TYPE_OAUTH {
		oauthConfig := &clientcredentials.Config{
			ClientID:     js.OAuthClientID,
			ClientSecret: js.OAuthClientSecret,
			TokenURL:     js.OAuthTokenURL,
			Scopes:       js.OAuthScopes,
		}

		return oauthConfig.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	}

	return base
}

func (js *JiraStore) doRequest(
	ctx context.Context,
	method string,
	requestUrl string,
	body interface{},
	result interface{},
) error {
	js.Interop.Logger.Debugf(
		"making jira %s request using URL %s...",
		method,
		requestUrl,
	)

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestUrl, reader)
	if err != nil {
		return err
	}

	if js.AuthType == AUTH_TYPE_BASIC {
		req.SetBasicAuth(js.ApiUser, js.ApiToken)
	}

	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")

	resp, err := js.createHttpClient(ctx).Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		js.Interop.Logger.Debugf(
			"read %d bytes, unmarshaling JSON...",
			len(respBody),
		)

		return json.Unmarshal(respBody, result)
	}

	return nil
}

var errNotFound = fmt.Errorf("resource not found")

func buildJql(projectKey string, issueType string, filter remote.Filter) string {
	parts := []string{
		fmt.Sprintf("project = '%s'", projectKey),
		fmt.Sprintf("issuetype = '%s'", issueType),
	}

	for field, value := range filter {
		parts = append(
			parts,
			fmt.Sprintf(
				"'%s' = '%s'",
				strings.ReplaceAll(field, "'", ""),
				strings.ReplaceAll(fmt.Sprintf("%v", value), "'", ""),
			),
		)
	}

	return strings.Join(parts, " AND ")
}

func (js *JiraStore) searchIssues(ctx context.Context, jql string) ([]issue, error) {
	var results []issue

	startAt := 0

	for {
		requestUrl := fmt.Sprintf(
			"%s/rest/api/2/search?jql=%s&startAt=%d&maxResults=%d",
			js.ApiURL,
			url.QueryEscape(jql),
			startAt,
			js.PageSize,
		)

		resp := &searchResponse{}

		if err := js.doRequest(ctx, "GET", requestUrl, nil, resp); err != nil {
			return nil, err
		}

		results = append(results, resp.Issues...)
		startAt += len(resp.Issues)

		if len(resp.Issues) == 0 || startAt >= resp.Total {
			return results, nil
		}
	}
}

func (js *JiraStore) getIssue(ctx context.Context, key string) (*issue, error) {
	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s",
		js.ApiURL,
		url.PathEscape(key),
	)

	resp := &issue{}

	err := js.doRequest(ctx, "GET", requestUrl, nil, resp)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (js *JiraStore) createIssue(
	ctx context.Context,
	issueType string,
	fields map[string]interface{},
) (*issue, error) {
	payload := map[string]interface{}{}
	for k, v := range fields {
		payload[k] = v
	}

	payload["project"] = map[string]interface{}{"key": js.ProjectKey}
	payload["issuetype"] = map[string]interface{}{"name": issueType}

	if parent, ok := payload["parent"]; ok {
		payload["parent"] = map[string]interface{}{"key": cast.ToString(parent)}
	}

	requestUrl := fmt.Sprintf("%s/rest/api/2/issue", js.ApiURL)

	created := &issue{}

	err := js.doRequest(
		ctx,
		"POST",
		requestUrl,
		map[string]interface{}{"fields": payload},
		created,
	)
	if err != nil {
		return nil, err
	}

	return js.getIssue(ctx, created.Key)
}

func (js *JiraStore) updateIssue(
	ctx context.Context,
	key string,
	fields map[string]interface{},
) error {
	payload := map[string]interface{}{}
	for k, v := range fields {
		payload[k] = v
	}

	if parent, ok := payload["parent"]; ok {
		if parent == nil || cast.ToString(parent) == "" {
			payload["parent"] = nil
		} else {
			payload["parent"] = map[string]interface{}{"key": cast.ToString(parent)}
		}
	}

	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s",
		js.ApiURL,
		url.PathEscape(key),
	)

	return js.doRequest(
		ctx,
		"PUT",
		requestUrl,
		map[string]interface{}{"fields": payload},
		nil,
	)
}

func (js *JiraStore) deleteIssue(ctx context.Context, key string) (bool, error) {
	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s",
		js.ApiURL,
		url.PathEscape(key),
	)

	err := js.doRequest(ctx, "DELETE", requestUrl, nil, nil)
	if err == errNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// splitSubResourceID splits a composite "<issue key>/<resource id>" id.
func splitSubResourceID(id string) (string, string, error) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid sub-resource id: %s", id)
	}

	return parts[0], parts[1], nil
}

func subResourcePath(entityType string) string {
	if entityType == EntityTypeWorklog {
		return "worklog"
	}
	return "comment"
}

func (js *JiraStore) findSubResources(
	ctx context.Context,
	entityType string,
	filter remote.Filter,
) ([]remote.Entity, error) {
	if id, ok := filter["id"]; ok {
		entity, err := js.getSubResource(ctx, entityType, cast.ToString(id))
		if err != nil {
			return nil, err
		}
		if entity == nil {
			return nil, nil
		}
		return []remote.Entity{*entity}, nil
	}

	issueKey := cast.ToString(filter["issue"])
	if issueKey == "" {
		return nil, fmt.Errorf("%s filter requires an issue key", entityType)
	}

	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s/%s",
		js.ApiURL,
		url.PathEscape(issueKey),
		subResourcePath(entityType),
	)

	list := &subResourceList{}

	if err := js.doRequest(ctx, "GET", requestUrl, nil, list); err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, err
	}

	resources := list.Comments
	if entityType == EntityTypeWorklog {
		resources = list.Worklogs
	}

	entities := make([]remote.Entity, 0, len(resources))
	for i := range resources {
		entities = append(
			entities,
			*subResourceToEntity(entityType, issueKey, &resources[i]),
		)
	}

	return entities, nil
}

func (js *JiraStore) getSubResource(
	ctx context.Context,
	entityType string,
	id string,
) (*remote.Entity, error) {
	issueKey, resourceID, err := splitSubResourceID(id)
	if err != nil {
		return nil, err
	}

	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s/%s/%s",
		js.ApiURL,
		url.PathEscape(issueKey),
		subResourcePath(entityType),
		url.PathEscape(resourceID),
	)

	resource := &subResource{}

	err = js.doRequest(ctx, "GET", requestUrl, nil, resource)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return subResourceToEntity(entityType, issueKey, resource), nil
}

func (js *JiraStore) createSubResource(
	ctx context.Context,
	entityType string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	issueKey := cast.ToString(fields["issue"])
	if issueKey == "" {
		return nil, fmt.Errorf("%s creation requires an issue key", entityType)
	}

	payload := map[string]interface{}{}
	for k, v := range fields {
		if k != "issue" {
			payload[k] = v
		}
	}

	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s/%s",
		js.ApiURL,
		url.PathEscape(issueKey),
		subResourcePath(entityType),
	)

	created := &subResource{}

	if err := js.doRequest(ctx, "POST", requestUrl, payload, created); err != nil {
		return nil, err
	}

	return subResourceToEntity(entityType, issueKey, created), nil
}

func (js *JiraStore) updateSubResource(
	ctx context.Context,
	entityType string,
	id string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	issueKey, resourceID, err := splitSubResourceID(id)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{}
	for k, v := range fields {
		if k != "issue" {
			payload[k] = v
		}
	}

	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s/%s/%s",
		js.ApiURL,
		url.PathEscape(issueKey),
		subResourcePath(entityType),
		url.PathEscape(resourceID),
	)

	updated := &subResource{}

	if err := js.doRequest(ctx, "PUT", requestUrl, payload, updated); err != nil {
		return nil, err
	}

	return subResourceToEntity(entityType, issueKey, updated), nil
}

func (js *JiraStore) deleteSubResource(
	ctx context.Context,
	entityType string,
	id string,
) (bool, error) {
	issueKey, resourceID, err := splitSubResourceID(id)
	if err != nil {
		return false, err
	}

	requestUrl := fmt.Sprintf(
		"%s/rest/api/2/issue/%s/%s/%s",
		js.ApiURL,
		url.PathEscape(issueKey),
		subResourcePath(entityType),
		url.PathEscape(resourceID),
	)

	err = js.doRequest(ctx, "DELETE", requestUrl, nil, nil)
	if err == errNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func subResourceToEntity(
	entityType string,
	issueKey string,
	resource *subResource,
) *remote.Entity {
	fields := map[string]interface{}{
		"issue": issueKey,
	}

	if entityType == EntityTypeWorklog {
		fields["comment"] = resource.Comment
		fields["timeSpentSeconds"] = resource.TimeSpentSeconds
		fields["started"] = resource.Started
	} else {
		fields["body"] = resource.Body
	}

	if resource.Author != nil {
		fields["author"] = resource.Author.DisplayName
		fields["authorEmail"] = resource.Author.EmailAddress
	}

	return &remote.Entity{
		Type:   entityType,
		ID:     fmt.Sprintf("%s/%s", issueKey, resource.ID),
		Fields: fields,
	}
}

func (js *JiraStore) getFields(ctx context.Context) ([]fieldInfo, error) {
	requestUrl := fmt.Sprintf("%s/rest/api/2/field", js.ApiURL)

	var resp []fieldInfo

	if err := js.doRequest(ctx, "GET", requestUrl, nil, &resp); err != nil {
		return nil, err
	}

	return resp, nil
}
