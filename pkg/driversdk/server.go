// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driversdk

import (
	"context"
	"log/slog"
	"net/rpc"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/monisens/monisens/pkg/driver"
)

// driverServer serves one driver over RPC inside the driver process. A
// single loaded binary may host several sessions, one per device.
type driverServer struct {
	drv    driver.Driver
	broker *hashiplug.MuxBroker

	mu       sync.Mutex
	nextID   uint32
	sessions map[uint32]*serverSession
}

type serverSession struct {
	handler driver.Handler
	sink    *remoteSink
}

func newDriverServer(drv driver.Driver, broker *hashiplug.MuxBroker) *driverServer {
	return &driverServer{
		drv:      drv,
		broker:   broker,
		sessions: make(map[uint32]*serverSession),
	}
}

func (s *driverServer) session(id uint32) (*serverSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Version reports the driver's ABI revision.
func (s *driverServer) Version(_ struct{}, resp *VersionResponse) error {
	resp.Version = s.drv.Version()
	return nil
}

// Init creates a session.
func (s *driverServer) Init(req InitRequest, resp *InitResponse) error {
	handler, err := s.drv.Init(context.Background(), req.DataDir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.sessions[id] = &serverSession{handler: handler}
	resp.SessionID = id
	return nil
}

// ConnInfo collects the connection schema. The in-process visitor collapses
// to a value return on the wire.
func (s *driverServer) ConnInfo(req SessionRequest, resp *ParamsResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}

	err := sess.handler.ConnInfo(context.Background(), func(params []driver.ParamInfo) {
		resp.Params = driver.CloneParams(params)
	})
	setStatus(err, &resp.Code, &resp.Err)
	return nil
}

// Connect attempts the device connection.
func (s *driverServer) Connect(req ConfRequest, resp *StatusResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}
	setStatus(sess.handler.Connect(context.Background(), req.Conf), &resp.Code, &resp.Err)
	return nil
}

// ConfInfo collects the configuration schema.
func (s *driverServer) ConfInfo(req SessionRequest, resp *ParamsResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}

	err := sess.handler.ConfInfo(context.Background(), func(params []driver.ParamInfo) {
		resp.Params = driver.CloneParams(params)
	})
	setStatus(err, &resp.Code, &resp.Err)
	return nil
}

// Configure applies a device configuration.
func (s *driverServer) Configure(req ConfRequest, resp *StatusResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}
	setStatus(sess.handler.Configure(context.Background(), req.Conf), &resp.Code, &resp.Err)
	return nil
}

// SensorTypeInfos collects the sensor catalog.
func (s *driverServer) SensorTypeInfos(req SessionRequest, resp *CatalogResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}

	err := sess.handler.SensorTypeInfos(context.Background(), func(infos []driver.SensorTypeInfo) {
		resp.Infos = append(resp.Infos, driver.CloneCatalog(infos)...)
	})
	setStatus(err, &resp.Code, &resp.Err)
	return nil
}

// Start dials the host's dispatcher stream and hands the driver a sink that
// forwards every message across it.
func (s *driverServer) Start(req StartRequest, resp *StatusResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}

	conn, err := s.broker.Dial(req.BrokerID)
	if err != nil {
		setStatus(driver.WrapConnFailed(err, "failed to dial dispatcher stream"), &resp.Code, &resp.Err)
		return nil
	}

	sink := &remoteSink{client: rpc.NewClient(conn)}
	if err := sess.handler.Start(context.Background(), sink); err != nil {
		_ = sink.client.Close()
		setStatus(err, &resp.Code, &resp.Err)
		return nil
	}

	sess.sink = sink
	setStatus(nil, &resp.Code, &resp.Err)
	return nil
}

// Stop halts streaming and releases the dispatcher connection. The driver's
// Stop has already quiesced every emitting goroutine by the time the
// connection closes, so no dispatch races the teardown.
func (s *driverServer) Stop(req SessionRequest, resp *StatusResponse) error {
	sess, ok := s.session(req.SessionID)
	if !ok {
		setStatus(driver.InvalidParamsf("unknown session %d", req.SessionID), &resp.Code, &resp.Err)
		return nil
	}

	err := sess.handler.Stop(context.Background())
	if sess.sink != nil {
		if cerr := sess.sink.client.Close(); cerr != nil {
			slog.Warn("failed to close dispatcher connection", "error", cerr)
		}
		sess.sink = nil
	}
	setStatus(err, &resp.Code, &resp.Err)
	return nil
}

// Destroy releases the session.
func (s *driverServer) Destroy(req SessionRequest, _ *struct{}) error {
	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()

	if ok {
		sess.handler.Destroy()
	}
	return nil
}

// remoteSink forwards driver messages to the host over the broker stream.
// rpc.Client serializes concurrent calls internally, which is what makes the
// sink safe to share across driver goroutines.
type remoteSink struct {
	client *rpc.Client
}

var _ driver.MessageSink = (*remoteSink)(nil)

func (s *remoteSink) Dispatch(msg driver.Message) {
	var reply struct{}
	if err := s.client.Call("Plugin.Dispatch", DispatchRequest{Msg: msg}, &reply); err != nil {
		slog.Warn("failed to dispatch message to host", "error", err)
	}
}
