// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driversdk

import (
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/monisens/monisens/pkg/driver"
)

// driverPlugin implements go-plugin's Plugin interface for the net/rpc
// protocol. The host side never populates drv; the driver binary does.
type driverPlugin struct {
	drv driver.Driver
}

// Server returns the RPC server serving the wrapped driver. Called in the
// driver process.
func (p *driverPlugin) Server(broker *hashiplug.MuxBroker) (any, error) {
	return newDriverServer(p.drv, broker), nil
}

// Client returns the host-side driver proxy. Called in the host process.
func (p *driverPlugin) Client(broker *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return &driverClient{client: c, broker: broker}, nil
}

// Wire types. Status codes travel as their numeric value, exactly as the
// contract defines them; the error text is advisory.

// InitRequest asks the driver to create one session.
type InitRequest struct {
	DataDir string
}

// InitResponse carries the server-side session identity.
type InitResponse struct {
	SessionID uint32
}

// SessionRequest addresses one session.
type SessionRequest struct {
	SessionID uint32
}

// ConfRequest carries parameter values into Connect or Configure.
type ConfRequest struct {
	SessionID uint32
	Conf      driver.Conf
}

// StartRequest installs the message dispatch channel: the host serves a
// dispatcher on the broker stream identified by BrokerID and the driver
// process dials it.
type StartRequest struct {
	SessionID uint32
	BrokerID  uint32
}

// StatusResponse reports an operation result.
type StatusResponse struct {
	Code uint8
	Err  string
}

// ParamsResponse carries a parameter schema back to the host.
type ParamsResponse struct {
	Params []driver.ParamInfo
	Code   uint8
	Err    string
}

// CatalogResponse carries the sensor catalog back to the host.
type CatalogResponse struct {
	Infos []driver.SensorTypeInfo
	Code  uint8
	Err   string
}

// VersionResponse reports the driver's ABI revision.
type VersionResponse struct {
	Version uint8
}

// DispatchRequest carries one streamed message host-ward.
type DispatchRequest struct {
	Msg driver.Message
}

// setStatus folds an operation result into a response.
func setStatus(err error, code *uint8, text *string) {
	if err == nil {
		*code = uint8(driver.CodeOK)
		return
	}
	*code = uint8(driver.CodeOf(err))
	*text = err.Error()
}

// statusErr reconstructs a tagged driver error from a wire status.
func statusErr(code uint8, text string) error {
	switch driver.Code(code) {
	case driver.CodeOK:
		return nil
	case driver.CodeInvalidParams:
		return driver.InvalidParamsf("%s", text)
	default:
		return driver.ConnFailedf("%s", text)
	}
}
