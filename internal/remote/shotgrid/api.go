package shotgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type record struct {
	Id         interface{}            `json:"id"`
	Attributes map[string]interface{} `json:"attributes"`
}

type recordsResponse struct {
	Data []record `json:"data"`
}

type recordResponse struct {
	Data record `json:"data"`
}

type schemaField struct {
	DataType struct {
		Value string `json:"value"`
	} `json:"data_type"`
	Properties struct {
		MaxLength struct {
			Value int `json:"value"`
		} `json:"max_length"`
	} `json:"properties"`
}

type schemaResponse struct {
	Data map[string]schemaField `json:"data"`
}

var linkRE *regexp.Regexp

func init() {
	linkRE = regexp.MustCompile(`<([^>]+)>\s*;\s*rel\s*=\s*"([^"]+)"`)
}

func (sgs *ShotgridStore) createHttpClient(ctx context.Context) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	if sgs.retryMax > 0 {
		retryClient.RetryMax = sgs.retryMax
	}

	base := retryClient.StandardClient()

	// Both grant types go through the token endpoint; script credentials are
	// exchanged with the client_credentials flow.
	tokenURL := fmt.Sprintf("%s/api/v1/auth/access_token", sgs.ApiURL)

	if sgs.AuthType == AUTH_TYPE_PASSWORD {
		oauthConfig := &oauth2.Config{
			ClientID: sgs.ApiUser,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}

		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

		token, err := oauthConfig.PasswordCredentialsToken(
			ctx,
			sgs.ApiUser,
			sgs.ApiPassword,
		)
		if err != nil {
			sgs.Interop.Logger.Warnf("password token exchange failed: %s", err)
			return base
		}

		return oauthConfig.Client(ctx, token)
	}

	oauthConfig := &clientcredentials.Config{
		ClientID:     sgs.ScriptName,
		ClientSecret: sgs.ScriptKey,
		TokenURL:     tokenURL,
	}

	return oauthConfig.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
}

func (sgs *ShotgridStore) doRequest(
	ctx context.Context,
	method string,
	requestUrl string,
	body interface{},
	result interface{},
) (string, error) {
	sgs.Interop.Logger.Debugf(
		"making shotgrid %s request using URL %s...",
		method,
		requestUrl,
	)

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestUrl, reader)
	if err != nil {
		return "", err
	}

	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")

	resp, err := sgs.createHttpClient(ctx).Do(req)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("request failed: %s", resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if result != nil && len(respBody) > 0 {
		sgs.Interop.Logger.Debugf(
			"read %d bytes, unmarshaling JSON...",
			len(respBody),
		)

		err = json.Unmarshal(respBody, result)
		if err != nil {
			return "", err
		}
	}

	linkHeader := resp.Header.Get("Link")
	if linkHeader != "" {
		all := linkRE.FindAllStringSubmatch(linkHeader, -1)
		for _, tag := range all {
			if tag[2] == "next" {
				return tag[1], nil
			}
		}
	}

	return "", nil
}

func (sgs *ShotgridStore) getRecords(
	ctx context.Context,
	entityType string,
	filter map[string]interface{},
) ([]record, error) {
	var results []record

	params := url.Values{}
	params.Set("page[size]", fmt.Sprintf("%d", sgs.PageSize))

	for field, value := range filter {
		params.Set(
			fmt.Sprintf("filter[%s]", field),
			fmt.Sprintf("%v", value),
		)
	}

	requestUrl := fmt.Sprintf(
		"%s/api/v1/entity/%s?%s",
		sgs.ApiURL,
		url.PathEscape(entityType),
		params.Encode(),
	)

	for done := false; !done; {
		records := &recordsResponse{}

		nextUrl, err := sgs.doRequest(ctx, "GET", requestUrl, nil, records)
		if err != nil {
			return nil, err
		}

		results = append(results, records.Data...)

		if nextUrl == "" {
			done = true
			continue
		}

		requestUrl = nextUrl
	}

	return results, nil
}

func (sgs *ShotgridStore) postRecord(
	ctx context.Context,
	entityType string,
	fields map[string]interface{},
) (*record, error) {
	requestUrl := fmt.Sprintf(
		"%s/api/v1/entity/%s",
		sgs.ApiURL,
		url.PathEscape(entityType),
	)

	resp := &recordResponse{}

	_, err := sgs.doRequest(ctx, "POST", requestUrl, fields, resp)
	if err != nil {
		return nil, err
	}

	return &resp.Data, nil
}

func (sgs *ShotgridStore) putRecord(
	ctx context.Context,
	entityType string,
	id string,
	fields map[string]interface{},
) (*record, error) {
	requestUrl := fmt.Sprintf(
		"%s/api/v1/entity/%s/%s",
		sgs.ApiURL,
		url.PathEscape(entityType),
		url.PathEscape(id),
	)

	resp := &recordResponse{}

	_, err := sgs.doRequest(ctx, "PUT", requestUrl, fields, resp)
	if err != nil {
		return nil, err
	}

	return &resp.Data, nil
}

func (sgs *ShotgridStore) deleteRecord(
	ctx context.Context,
	entityType string,
	id string,
) (bool, error) {
	requestUrl := fmt.Sprintf(
		"%s/api/v1/entity/%s/%s",
		sgs.ApiURL,
		url.PathEscape(entityType),
		url.PathEscape(id),
	)

	_, err := sgs.doRequest(ctx, "DELETE", requestUrl, nil, nil)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (sgs *ShotgridStore) getSchema(
	ctx context.Context,
	entityType string,
) (map[string]schemaField, error) {
	requestUrl := fmt.Sprintf(
		"%s/api/v1/schema/%s/fields",
		sgs.ApiURL,
		url.PathEscape(entityType),
	)

	resp := &schemaResponse{}

	_, err := sgs.doRequest(ctx, "GET", requestUrl, nil, resp)
	if err != nil {
		return nil, err
	}

	return resp.Data, nil
}
