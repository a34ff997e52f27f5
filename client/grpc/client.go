package grpcclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	arkv1 "github.com/arkade-os/arkd/api-spec/protobuf/gen/ark/v1"
	"github.com/arkade-os/arkive/client"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const vtxosPageSize = 500

type service struct {
	ark     arkv1.ArkServiceClient
	indexer arkv1.IndexerServiceClient
}

type grpcClient struct {
	mu     sync.Mutex
	target string
	opts   []grpc.DialOption
	conn   *grpc.ClientConn
	svc    service
	cancel context.CancelFunc
	closed bool
}

func NewClient(serverUrl string) (client.SettlementServer, error) {
	if len(serverUrl) <= 0 {
		return nil, fmt.Errorf("missing server url")
	}

	port := 80
	creds := insecure.NewCredentials()
	serverUrl = strings.TrimPrefix(serverUrl, "http://")
	if strings.HasPrefix(serverUrl, "https://") {
		serverUrl = strings.TrimPrefix(serverUrl, "https://")
		creds = credentials.NewTLS(nil)
		port = 443
	}
	serverUrl = strings.TrimRight(serverUrl, "/")
	if !strings.Contains(serverUrl, ":") {
		serverUrl = fmt.Sprintf("%s:%d", serverUrl, port)
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	conn, err := grpc.NewClient(serverUrl, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &grpcClient{
		target: serverUrl,
		opts:   opts,
		conn:   conn,
		svc:    newService(conn),
		cancel: cancel,
	}
	go c.monitorConnection(ctx)
	return c, nil
}

func (c *grpcClient) GetInfo(ctx context.Context) (*client.Info, error) {
	if err := c.ensureConnection(ctx); err != nil {
		return nil, err
	}
	resp, err := c.service().ark.GetInfo(ctx, &arkv1.GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	return client.InfoFromProto(resp), nil
}

func (c *grpcClient) FetchVtxos(ctx context.Context, scripts []string) ([]client.Vtxo, error) {
	if len(scripts) <= 0 {
		return nil, nil
	}
	if err := c.ensureConnection(ctx); err != nil {
		return nil, err
	}

	vtxos := make([]client.Vtxo, 0)
	page := &arkv1.IndexerPageRequest{Size: vtxosPageSize}
	for {
		resp, err := c.service().indexer.GetVtxos(ctx, &arkv1.GetVtxosRequest{
			Scripts: scripts,
			Page:    page,
		})
		if err != nil {
			return nil, err
		}
		vtxos = append(vtxos, client.VtxosFromProto(resp.GetVtxos())...)

		if !client.HasNextPage(resp.GetPage()) {
			break
		}
		page = &arkv1.IndexerPageRequest{Size: vtxosPageSize, Index: resp.GetPage().GetNext()}
	}
	return vtxos, nil
}

func (c *grpcClient) SubmitRoundParticipation(
	ctx context.Context, intent client.RoundIntent,
) (*client.RoundOutcome, error) {
	if len(intent.Message) <= 0 || len(intent.Signature) <= 0 {
		return nil, fmt.Errorf("missing intent message or signature")
	}
	if err := c.ensureConnection(ctx); err != nil {
		return nil, err
	}
	resp, err := c.service().ark.RegisterIntent(ctx, &arkv1.RegisterIntentRequest{
		Intent: &arkv1.Intent{
			Proof:   intent.Signature,
			Message: intent.Message,
		},
	})
	if err != nil {
		return nil, err
	}
	return &client.RoundOutcome{IntentID: resp.GetIntentId()}, nil
}

func (c *grpcClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	//nolint:all
	c.conn.Close()
}

func (c *grpcClient) service() service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svc
}

// ensureConnection waits for the connection to be ready, replacing it if it
// failed. The lock is never held while waiting.
func (c *grpcClient) ensureConnection(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return fmt.Errorf("client closed")
		}
		conn := c.conn
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			c.mu.Unlock()
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown, connectivity.TransientFailure:
			if err := conn.Close(); err != nil {
				log.Debugf("failed to close grpc connection: %v", err)
			}
			newConn, err := grpc.NewClient(c.target, c.opts...)
			if err != nil {
				c.mu.Unlock()
				return err
			}
			newConn.Connect()
			c.conn = newConn
			c.svc = newService(newConn)
			conn = newConn
			state = conn.GetState()
		}
		c.mu.Unlock()

		if state == connectivity.Ready {
			return nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

func (c *grpcClient) monitorConnection(ctx context.Context) {
	for {
		if err := c.ensureConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("failed to ensure grpc connection: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if !conn.WaitForStateChange(ctx, connectivity.Ready) {
			return
		}
	}
}

func newService(conn *grpc.ClientConn) service {
	return service{
		ark:     arkv1.NewArkServiceClient(conn),
		indexer: arkv1.NewIndexerServiceClient(conn),
	}
}
