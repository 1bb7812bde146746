package main

import (
	"context"
	"fmt"

	_ "github.com/rendertools/track-issue-sync/internal/remote/jira"
	_ "github.com/rendertools/track-issue-sync/internal/remote/shotgrid"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rendertools/track-issue-sync/internal/bridge"
	engine "github.com/rendertools/track-issue-sync/internal/sync"
	"github.com/rendertools/track-issue-sync/pkg/interop"
)

type SyncRequest struct {
	Origin        string                 `json:"origin"`
	Channel       string                 `json:"channel"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	Change        string                 `json:"change"`
	ChangedFields []string               `json:"changed_fields"`
	Actor         *engine.Actor          `json:"actor"`
	Payload       map[string]interface{} `json:"payload"`
}

type SyncResult struct {
	Applied bool
	Message error
}

func HandleRequest(ctx context.Context, req SyncRequest) (SyncResult, error) {
	i, err := interop.NewInteroperability()
	if err != nil {
		retErr := fmt.Errorf("failed to create interop: %s", err)
		return SyncResult{false, retErr}, retErr
	}

	defer i.Shutdown()

	b, err := bridge.New(i)
	if err != nil {
		retErr := fmt.Errorf("failed to create bridge: %s", err)
		return SyncResult{false, retErr}, retErr
	}

	if err := b.Setup(ctx); err != nil {
		retErr := fmt.Errorf("bridge setup failed: %s", err)
		return SyncResult{false, retErr}, retErr
	}

	event := &engine.Event{
		Origin:        engine.Origin(req.Origin),
		Channel:       req.Channel,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Change:        engine.ChangeType(req.Change),
		ChangedFields: req.ChangedFields,
		Actor:         req.Actor,
		Payload:       req.Payload,
	}

	result, err := b.Dispatch(ctx, event)
	if err == nil {
		err = result.Err
	}
	if err != nil {
		return SyncResult{false, err}, err
	}

	return SyncResult{result.Applied, nil}, nil
}

func main() {
	lambda.Start(HandleRequest)
}
