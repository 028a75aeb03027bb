// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driversdk

import (
	"context"
	"log/slog"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/monisens/monisens/pkg/driver"
)

// driverClient is the host-side proxy satisfying driver.Driver for a driver
// running in another process.
type driverClient struct {
	client *rpc.Client
	broker *hashiplug.MuxBroker
}

var _ driver.Driver = (*driverClient)(nil)

func (c *driverClient) Version() uint8 {
	var resp VersionResponse
	if err := c.client.Call("Plugin.Version", struct{}{}, &resp); err != nil {
		slog.Error("failed to query driver version", "error", err)
		return 0
	}
	return resp.Version
}

func (c *driverClient) Init(ctx context.Context, dataDir string) (driver.Handler, error) {
	var resp InitResponse
	if err := call(ctx, c.client, "Plugin.Init", InitRequest{DataDir: dataDir}, &resp); err != nil {
		return nil, err
	}
	return &handlerClient{
		client:    c.client,
		broker:    c.broker,
		sessionID: resp.SessionID,
	}, nil
}

// handlerClient is the host-side proxy satisfying driver.Handler for one
// remote session. Wire value returns are re-expanded into synchronous
// visitor invocations, preserving the in-process callback scope rules.
type handlerClient struct {
	client    *rpc.Client
	broker    *hashiplug.MuxBroker
	sessionID uint32
}

var _ driver.Handler = (*handlerClient)(nil)

func (h *handlerClient) ConnInfo(ctx context.Context, visit driver.ConnInfoFunc) error {
	var resp ParamsResponse
	if err := call(ctx, h.client, "Plugin.ConnInfo", SessionRequest{SessionID: h.sessionID}, &resp); err != nil {
		return driver.WrapConnFailed(err, "conn_info transport failure")
	}
	if err := statusErr(resp.Code, resp.Err); err != nil {
		return err
	}
	visit(resp.Params)
	return nil
}

func (h *handlerClient) Connect(ctx context.Context, conf driver.Conf) error {
	var resp StatusResponse
	if err := call(ctx, h.client, "Plugin.Connect", ConfRequest{SessionID: h.sessionID, Conf: conf}, &resp); err != nil {
		return driver.WrapConnFailed(err, "connect transport failure")
	}
	return statusErr(resp.Code, resp.Err)
}

func (h *handlerClient) ConfInfo(ctx context.Context, visit driver.ConfInfoFunc) error {
	var resp ParamsResponse
	if err := call(ctx, h.client, "Plugin.ConfInfo", SessionRequest{SessionID: h.sessionID}, &resp); err != nil {
		return driver.WrapConnFailed(err, "conf_info transport failure")
	}
	if err := statusErr(resp.Code, resp.Err); err != nil {
		return err
	}
	visit(resp.Params)
	return nil
}

func (h *handlerClient) Configure(ctx context.Context, conf driver.Conf) error {
	var resp StatusResponse
	if err := call(ctx, h.client, "Plugin.Configure", ConfRequest{SessionID: h.sessionID, Conf: conf}, &resp); err != nil {
		return driver.WrapConnFailed(err, "configure transport failure")
	}
	return statusErr(resp.Code, resp.Err)
}

func (h *handlerClient) SensorTypeInfos(ctx context.Context, visit driver.SensorTypeInfoFunc) error {
	var resp CatalogResponse
	if err := call(ctx, h.client, "Plugin.SensorTypeInfos", SessionRequest{SessionID: h.sessionID}, &resp); err != nil {
		return driver.WrapConnFailed(err, "sensor_type_infos transport failure")
	}
	if err := statusErr(resp.Code, resp.Err); err != nil {
		return err
	}
	visit(resp.Infos)
	return nil
}

// Start serves a dispatcher for the session on a fresh broker stream and
// asks the remote driver to dial it. The sink handed in by the session stays
// host-side; only the stream crosses the process boundary.
func (h *handlerClient) Start(ctx context.Context, sink driver.MessageSink) error {
	brokerID := h.broker.NextId()
	go h.broker.AcceptAndServe(brokerID, &dispatcher{sink: sink})

	var resp StatusResponse
	req := StartRequest{SessionID: h.sessionID, BrokerID: brokerID}
	if err := call(ctx, h.client, "Plugin.Start", req, &resp); err != nil {
		return driver.WrapConnFailed(err, "start transport failure")
	}
	return statusErr(resp.Code, resp.Err)
}

func (h *handlerClient) Stop(ctx context.Context) error {
	var resp StatusResponse
	if err := call(ctx, h.client, "Plugin.Stop", SessionRequest{SessionID: h.sessionID}, &resp); err != nil {
		return driver.WrapConnFailed(err, "stop transport failure")
	}
	return statusErr(resp.Code, resp.Err)
}

func (h *handlerClient) Destroy() {
	var reply struct{}
	if err := h.client.Call("Plugin.Destroy", SessionRequest{SessionID: h.sessionID}, &reply); err != nil {
		slog.Warn("failed to destroy remote session",
			"session_id", h.sessionID,
			"error", err)
	}
}

// dispatcher is the host-side RPC service the driver process pushes
// messages into while the session is running.
type dispatcher struct {
	sink driver.MessageSink
}

// Dispatch delivers one streamed message into the host sink.
func (d *dispatcher) Dispatch(req DispatchRequest, _ *struct{}) error {
	d.sink.Dispatch(req.Msg)
	return nil
}

// call issues an RPC honoring context cancellation. net/rpc itself has no
// deadline support; on cancellation the call keeps running server-side but
// the host stops waiting for it.
func call(ctx context.Context, c *rpc.Client, method string, args, reply any) error {
	done := c.Go(method, args, reply, make(chan *rpc.Call, 1)).Done
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		return res.Error
	}
}
