// Package jira implements the remote.Store interface on top of the issue
// tracking system's REST API.
//
// Issue-like entity types map to issues of that issue type. The reserved
// entity types "comment" and "worklog" map to issue sub-resources and use
// composite ids of the form "<issue key>/<resource id>". Sub-resource
// filters must carry an "issue" key naming the owning issue.
package jira

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/rendertools/track-issue-sync/pkg/interop"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type AuthType string

const (
	AUTH_TYPE_BASIC AuthType = "basic"
	AUTH_TYPE_OAUTH AuthType = "oauth"

	EntityTypeComment = "comment"
	EntityTypeWorklog = "worklog"
)

type JiraStore struct {
	Interop           *interop.Interop
	ApiURL            string
	ApiUser           string
	ApiToken          string
	AuthType          AuthType
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       []string
	ProjectKey        string
	PageSize          int
	identity          remote.Identity
	retryMax          int
}

func init() {
	remote.RegisterStore("jira", New)
}

func New(i *interop.Interop, v *viper.Viper) (remote.Store, error) {
	v.AutomaticEnv()
	v.SetEnvPrefix("TIS_JIRA")

	apiUrl := v.GetString("apiUrl")
	if apiUrl == "" {
		return nil, fmt.Errorf("missing jira api url")
	}

	projectKey := v.GetString("projectKey")
	if projectKey == "" {
		return nil, fmt.Errorf("missing jira project key")
	}

	pageSize := v.GetInt("pageSize")
	if pageSize <= 0 {
		pageSize = 100
	}

	var authType AuthType

	s := strings.ToLower(v.GetString("authType"))
	if s == "" || s == string(AUTH_TYPE_BASIC) {
		authType = AUTH_TYPE_BASIC
	} else if s == string(AUTH_TYPE_OAUTH) {
		authType = AUTH_TYPE_OAUTH
	} else {
		return nil, fmt.Errorf("invalid authentication type: %s", s)
	}

	js := &JiraStore{
		Interop:    i,
		ApiURL:     strings.TrimRight(apiUrl, "/"),
		AuthType:   authType,
		ProjectKey: projectKey,
		PageSize:   pageSize,
		retryMax:   v.GetInt("retryMax"),
		identity: remote.Identity{
			Name:  v.GetString("identity.name"),
			Email: v.GetString("identity.email"),
		},
	}

	if authType == AUTH_TYPE_BASIC {
		apiUser := v.GetString("apiUser")
		if apiUser == "" {
			return nil, fmt.Errorf("missing jira api user")
		}

		apiToken := v.GetString("apiToken")
		if apiToken == "" {
			return nil, fmt.Errorf("missing jira api token")
		}

		js.ApiUser = apiUser
		js.ApiToken = apiToken

		if js.identity.Email == "" {
			js.identity.Email = apiUser
		}
	} else {
		oauthTokenUrl := v.GetString("oauthTokenUrl")
		if oauthTokenUrl == "" {
			return nil, fmt.Errorf("missing jira oauth token url")
		}

		oauthClientId := v.GetString("oauthClientId")
		if oauthClientId == "" {
			return nil, fmt.Errorf("missing jira oauth client ID")
		}

		oauthClientSecret := v.GetString("oauthClientSecret")
		if oauthClientSecret == "" {
			return nil, fmt.Errorf("missing jira oauth secret key")
		}

		js.OAuthTokenURL = oauthTokenUrl
		js.OAuthClientID = oauthClientId
		js.OAuthClientSecret = oauthClientSecret
		js.OAuthScopes = v.GetStringSlice("oauthClientScopes")
	}

	return js, nil
}

func (js *JiraStore) Identity() remote.Identity {
	return js.identity
}

func (js *JiraStore) Find(
	ctx context.Context,
	entityType string,
	filter remote.Filter,
) ([]remote.Entity, error) {
	switch entityType {
	case EntityTypeComment, EntityTypeWorklog:
		return js.findSubResources(ctx, entityType, filter)
	}

	if id, ok := filter["id"]; ok {
		issue, err := js.getIssue(ctx, cast.ToString(id))
		if err != nil {
			return nil, err
		}
		if issue == nil {
			return nil, nil
		}
		return []remote.Entity{*issueToEntity(entityType, issue)}, nil
	}

	issues, err := js.searchIssues(ctx, buildJql(js.ProjectKey, entityType, filter))
	if err != nil {
		return nil, err
	}

	entities := make([]remote.Entity, 0, len(issues))
	for i := range issues {
		entities = append(entities, *issueToEntity(entityType, &issues[i]))
	}

	return entities, nil
}

func (js *JiraStore) Create(
	ctx context.Context,
	entityType string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	switch entityType {
	case EntityTypeComment, EntityTypeWorklog:
		return js.createSubResource(ctx, entityType, fields)
	}

	issue, err := js.createIssue(ctx, entityType, fields)
	if err != nil {
		return nil, err
	}

	return issueToEntity(entityType, issue), nil
}

func (js *JiraStore) Update(
	ctx context.Context,
	entityType string,
	id string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	switch entityType {
	case EntityTypeComment, EntityTypeWorklog:
		return js.updateSubResource(ctx, entityType, id, fields)
	}

	if err := js.updateIssue(ctx, id, fields); err != nil {
		return nil, err
	}

	issue, err := js.getIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("issue %s vanished during update", id)
	}

	return issueToEntity(entityType, issue), nil
}

func (js *JiraStore) Delete(
	ctx context.Context,
	entityType string,
	id string,
) (bool, error) {
	switch entityType {
	case EntityTypeComment, EntityTypeWorklog:
		return js.deleteSubResource(ctx, entityType, id)
	}

	return js.deleteIssue(ctx, id)
}

func (js *JiraStore) Fields(
	ctx context.Context,
	entityType string,
) ([]remote.FieldDescriptor, error) {
	switch entityType {
	case EntityTypeComment:
		return []remote.FieldDescriptor{
			{Name: "issue", DataType: "text"},
			{Name: "body", DataType: "text", MaxLength: 32767},
		}, nil

	case EntityTypeWorklog:
		return []remote.FieldDescriptor{
			{Name: "issue", DataType: "text"},
			{Name: "comment", DataType: "text", MaxLength: 32767},
			{Name: "timeSpentSeconds", DataType: "number"},
			{Name: "started", DataType: "date"},
		}, nil
	}

	fields, err := js.getFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("get fields failed: %s", err)
	}

	descriptors := make([]remote.FieldDescriptor, 0, len(fields))

	for _, field := range fields {
		descriptors = append(descriptors, remote.FieldDescriptor{
			Name:        field.ID,
			DataType:    jiraDataType(field.Schema.Type),
			MaxLength:   maxLengthFor(field.ID),
			MultiValued: field.Schema.Type == "array",
		})
	}

	return descriptors, nil
}

func issueToEntity(entityType string, issue *issue) *remote.Entity {
	fields := issue.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}

	// Flatten the nested parent resource to its key so the engine can treat
	// parent like any other scalar field.
	if parent, ok := fields["parent"].(map[string]interface{}); ok {
		fields["parent"] = cast.ToString(parent["key"])
	}

	if status, ok := fields["status"].(map[string]interface{}); ok {
		fields["status"] = cast.ToString(status["name"])
	}

	return &remote.Entity{
		Type:   entityType,
		ID:     issue.Key,
		Fields: fields,
	}
}

func jiraDataType(schemaType string) string {
	switch schemaType {
	case "string", "":
		return "text"
	case "number":
		return "number"
	case "date", "datetime":
		return "date"
	case "status":
		return "status"
	default:
		return schemaType
	}
}

// The field metadata endpoint does not expose length limits, so the known
// server-side caps are applied here.
func maxLengthFor(fieldID string) int {
	switch fieldID {
	case "summary":
		return 255
	case "description", "environment":
		return 32767
	default:
		return 0
	}
}
