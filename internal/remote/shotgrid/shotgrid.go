// Package shotgrid implements the remote.Store interface on top of the
// production tracking system's REST API.
package shotgrid

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
	AUTH_TYPE_PASSWORD AuthType = "password"
	AUTH_TYPE_SCRIPT   AuthType = "script"
)

type ShotgridStore struct {
	Interop       *interop.Interop
	ApiURL        string
	ApiUser       string
	ApiPassword   string
	AuthType      AuthType
	ScriptName    string
	ScriptKey     string
	PageSize      int
	identity      remote.Identity
	retryMax      int
}

func init() {
	remote.RegisterStore("shotgrid", New)
}

func New(i *interop.Interop, v *viper.Viper) (remote.Store, error) {
	v.AutomaticEnv()
	v.SetEnvPrefix("TIS_SHOTGRID")

	apiUrl := v.GetString("apiUrl")
	if apiUrl == "" {
		return nil, fmt.Errorf("missing shotgrid api url")
	}

	pageSize := v.GetInt("pageSize")
	if pageSize <= 0 {
		pageSize = 500
	}

	var authType AuthType

	s := strings.ToLower(v.GetString("authType"))
	if s == "" || s == string(AUTH_TYPE_SCRIPT) {
		authType = AUTH_TYPE_SCRIPT
	} else if s == string(AUTH_TYPE_PASSWORD) {
		authType = AUTH_TYPE_PASSWORD
	} else {
		return nil, fmt.Errorf("invalid authentication type: %s", s)
	}

	sgs := &ShotgridStore{
		Interop:  i,
		ApiURL:   strings.TrimRight(apiUrl, "/"),
		AuthType: authType,
		PageSize: pageSize,
		retryMax: v.GetInt("retryMax"),
		identity: remote.Identity{
			Name:  v.GetString("identity.name"),
			Email: v.GetString("identity.email"),
		},
	}

	if authType == AUTH_TYPE_SCRIPT {
		scriptName := v.GetString("scriptName")
		if scriptName == "" {
			return nil, fmt.Errorf("missing shotgrid script name")
		}

		scriptKey := v.GetString("scriptKey")
		if scriptKey == "" {
			return nil, fmt.Errorf("missing shotgrid script key")
		}

		sgs.ScriptName = scriptName
		sgs.ScriptKey = scriptKey

		if sgs.identity.Name == "" {
			sgs.identity.Name = scriptName
		}
	} else {
		apiUser := v.GetString("apiUser")
		if apiUser == "" {
			return nil, fmt.Errorf("missing shotgrid api user")
		}

		apiPassword := v.GetString("apiPassword")
		if apiPassword == "" {
			return nil, fmt.Errorf("missing shotgrid api password")
		}

		sgs.ApiUser = apiUser
		sgs.ApiPassword = apiPassword

		if sgs.identity.Name == "" {
			sgs.identity.Name = apiUser
		}
	}

	return sgs, nil
}

func (sgs *ShotgridStore) Identity() remote.Identity {
	return sgs.identity
}

func (sgs *ShotgridStore) Find(
	ctx context.Context,
	entityType string,
	filter remote.Filter,
) ([]remote.Entity, error) {
	records, err := sgs.getRecords(ctx, entityType, filter)
	if err != nil {
		return nil, fmt.Errorf("get records failed: %s", err)
	}

	var entities []remote.Entity

	for _, item := range records {
		id := cast.ToString(item.Id)
		if id == "" {
			sgs.Interop.Logger.Warn("skipping record with no id")
			continue
		}

		entities = append(entities, remote.Entity{
			Type:   entityType,
			ID:     id,
			Fields: item.Attributes,
		})
	}

	return entities, nil
}

func (sgs *ShotgridStore) Create(
	ctx context.Context,
	entityType string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	record, err := sgs.postRecord(ctx, entityType, fields)
	if err != nil {
		return nil, err
	}

	return &remote.Entity{
		Type:   entityType,
		ID:     cast.ToString(record.Id),
		Fields: record.Attributes,
	}, nil
}

func (sgs *ShotgridStore) Update(
	ctx context.Context,
	entityType string,
	id string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	record, err := sgs.putRecord(ctx, entityType, id, fields)
	if err != nil {
		return nil, err
	}

	return &remote.Entity{
		Type:   entityType,
		ID:     cast.ToString(record.Id),
		Fields: record.Attributes,
	}, nil
}

func (sgs *ShotgridStore) Delete(
	ctx context.Context,
	entityType string,
	id string,
) (bool, error) {
	return sgs.deleteRecord(ctx, entityType, id)
}

func (sgs *ShotgridStore) Fields(
	ctx context.Context,
	entityType string,
) ([]remote.FieldDescriptor, error) {
	schema, err := sgs.getSchema(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("get schema failed: %s", err)
	}

	descriptors := make([]remote.FieldDescriptor, 0, len(schema))

	for name, field := range schema {
		descriptors = append(descriptors, remote.FieldDescriptor{
			Name:        name,
			DataType:    field.DataType.Value,
			MaxLength:   field.Properties.MaxLength.Value,
			MultiValued: field.DataType.Value == "multi_entity",
		})
	}

	return descriptors, nil
}
