package restclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	arkv1 "github.com/arkade-os/arkd/api-spec/protobuf/gen/ark/v1"
	"github.com/arkade-os/arkive/client"
	"github.com/arkade-os/arkive/internal/utils"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	vtxosPageSize   = 500
	maxResponseSize = 32 << 20
)

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

type restClient struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient returns a client of the server http gateway. Responses are the
// json encoding of the grpc messages.
func NewClient(serverURL string) (client.SettlementServer, error) {
	if len(serverURL) <= 0 {
		return nil, fmt.Errorf("missing server url")
	}
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url: unsupported scheme %q", parsed.Scheme)
	}
	// TODO: use twice the session duration.
	reqTimeout := 15 * time.Second

	return &restClient{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: reqTimeout},
	}, nil
}

func (a *restClient) GetInfo(ctx context.Context) (*client.Info, error) {
	resp := &arkv1.GetInfoResponse{}
	if err := a.call(ctx, http.MethodGet, "/v1/info", nil, nil, resp); err != nil {
		return nil, err
	}
	return client.InfoFromProto(resp), nil
}

func (a *restClient) FetchVtxos(ctx context.Context, scripts []string) ([]client.Vtxo, error) {
	if len(scripts) <= 0 {
		return nil, nil
	}

	vtxos := make([]client.Vtxo, 0)
	pageIndex := int32(0)
	for {
		query := url.Values{}
		for _, script := range scripts {
			query.Add("scripts", script)
		}
		query.Set("page.size", strconv.Itoa(vtxosPageSize))
		query.Set("page.index", strconv.Itoa(int(pageIndex)))

		resp := &arkv1.GetVtxosResponse{}
		if err := a.call(ctx, http.MethodGet, "/v1/indexer/vtxos", query, nil, resp); err != nil {
			return nil, err
		}
		vtxos = append(vtxos, client.VtxosFromProto(resp.GetVtxos())...)

		if !client.HasNextPage(resp.GetPage()) {
			break
		}
		pageIndex = resp.GetPage().GetNext()
	}
	return vtxos, nil
}

func (a *restClient) SubmitRoundParticipation(
	ctx context.Context, intent client.RoundIntent,
) (*client.RoundOutcome, error) {
	if len(intent.Message) <= 0 || len(intent.Signature) <= 0 {
		return nil, fmt.Errorf("missing intent message or signature")
	}
	req := &arkv1.RegisterIntentRequest{
		Intent: &arkv1.Intent{
			Proof:   intent.Signature,
			Message: intent.Message,
		},
	}
	resp := &arkv1.RegisterIntentResponse{}
	if err := a.call(ctx, http.MethodPost, "/v1/batch/registerIntent", nil, req, resp); err != nil {
		return nil, err
	}
	return &client.RoundOutcome{IntentID: resp.GetIntentId()}, nil
}

func (a *restClient) Close() {}

func (a *restClient) call(
	ctx context.Context, method, path string, query url.Values, req, resp proto.Message,
) error {
	endpoint := a.serverURL + path
	if len(query) > 0 {
		endpoint = fmt.Sprintf("%s?%s", endpoint, query.Encode())
	}

	var body io.Reader
	if req != nil {
		buf, err := protojson.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	// nolint:all
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &utils.HTTPStatusError{
			Method:     method,
			URL:        a.serverURL + path,
			StatusCode: httpResp.StatusCode,
			Body:       string(respBody),
		}
	}
	if err := unmarshalOpts.Unmarshal(respBody, resp); err != nil {
		return &utils.MalformedResponseError{Err: err}
	}
	return nil
}
