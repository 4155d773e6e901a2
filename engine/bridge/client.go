// Package bridge 通过引擎网关的connect RPC接口访问仿真引擎
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	"connectrpc.com/connect"
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/traffic-console/entity"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName 引擎网关服务名
const ServiceName = "traci.v1.EngineService"

type unaryClient = connect.Client[structpb.Struct, structpb.Struct]

// Client 引擎网关客户端，实现entity.IEngine
// 说明：不做重试与超时控制，连接断开在此处被识别为TransportError{ConnectionLost}
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption

	mu      sync.Mutex
	clients map[string]*unaryClient // 方法名 -> 客户端
}

// New 创建客户端
// 参数：httpClient-HTTP客户端，baseURL-网关地址，opts-附加选项（默认使用JSON编码）
func New(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       append([]connect.ClientOption{connect.WithProtoJSON()}, opts...),
		clients:    make(map[string]*unaryClient),
	}
}

func (c *Client) client(method string) *unaryClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uc, ok := c.clients[method]; ok {
		return uc
	}
	uc := connect.NewClient[structpb.Struct, structpb.Struct](
		c.httpClient, c.baseURL+"/"+ServiceName+"/"+method, c.opts...,
	)
	c.clients[method] = uc
	return uc
}

// call 发起一次调用
// 返回：响应中的value字段（可能为nil）
func (c *Client) call(ctx context.Context, method string, fields map[string]*structpb.Value) (*structpb.Value, error) {
	if fields == nil {
		fields = map[string]*structpb.Value{}
	}
	res, err := c.client(method).CallUnary(ctx, connect.NewRequest(&structpb.Struct{Fields: fields}))
	if err != nil {
		return nil, classify(method, err)
	}
	return res.Msg.GetFields()[valueField], nil
}

// classify 在传输边界确定错误类别
func classify(method string, err error) error {
	kind := entity.TransportRemote
	if connectionLost(err) {
		kind = entity.TransportConnectionLost
		log.Warnf("engine connection lost in %s: %v", method, err)
	}
	return &entity.TransportError{Kind: kind, Method: method, Err: err}
}

func connectionLost(err error) bool {
	if connect.CodeOf(err) == connect.CodeUnavailable {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

func protocol(method string, err error) error {
	return &entity.TransportError{Kind: entity.TransportProtocol, Method: method, Err: err}
}

func idField(id string) map[string]*structpb.Value {
	return map[string]*structpb.Value{"id": structpb.NewStringValue(id)}
}

func decode[T any](ctx context.Context, c *Client, method string, fields map[string]*structpb.Value, f func(*structpb.Value) (T, error)) (T, error) {
	v, err := c.call(ctx, method, fields)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := f(v)
	if err != nil {
		return out, protocol(method, err)
	}
	return out, nil
}

func (c *Client) exec(ctx context.Context, method string, fields map[string]*structpb.Value) error {
	_, err := c.call(ctx, method, fields)
	return err
}

func (c *Client) Start(ctx context.Context, args []string) error {
	log.Infof("start engine: %v", args)
	return c.exec(ctx, "Start", map[string]*structpb.Value{"args": stringsValue(args)})
}

func (c *Client) Step(ctx context.Context) error {
	return c.exec(ctx, "Step", nil)
}

func (c *Client) Close(ctx context.Context) error {
	return c.exec(ctx, "Close", nil)
}

func (c *Client) Time(ctx context.Context) (float64, error) {
	return decode(ctx, c, "Time", nil, asNumber)
}

func (c *Client) NetBoundary(ctx context.Context) (entity.Boundary, error) {
	return decode(ctx, c, "NetBoundary", nil, asBoundary)
}

func (c *Client) VehicleIDs(ctx context.Context) ([]string, error) {
	return decode(ctx, c, "VehicleIDs", nil, asStrings)
}

func (c *Client) VehicleSpeed(ctx context.Context, id string) (float64, error) {
	return decode(ctx, c, "VehicleSpeed", idField(id), asNumber)
}

func (c *Client) VehicleDistance(ctx context.Context, id string) (float64, error) {
	return decode(ctx, c, "VehicleDistance", idField(id), asNumber)
}

func (c *Client) VehicleDeparture(ctx context.Context, id string) (float64, error) {
	return decode(ctx, c, "VehicleDeparture", idField(id), asNumber)
}

func (c *Client) VehiclePosition(ctx context.Context, id string) (geometry.Point, error) {
	return decode(ctx, c, "VehiclePosition", idField(id), asPoint)
}

func (c *Client) VehicleAngle(ctx context.Context, id string) (float64, error) {
	return decode(ctx, c, "VehicleAngle", idField(id), asNumber)
}

func (c *Client) AddVehicle(ctx context.Context, spec entity.VehicleSpec) error {
	fields := idField(spec.ID)
	fields["route"] = structpb.NewStringValue(spec.RouteID)
	fields["type"] = structpb.NewStringValue(spec.TypeID)
	fields["depart_lane"] = structpb.NewStringValue(spec.DepartLane)
	fields["depart_speed"] = structpb.NewNumberValue(spec.DepartSpeed)
	return c.exec(ctx, "AddVehicle", fields)
}

func (c *Client) MoveVehicle(ctx context.Context, id string, laneID string, pos float64) error {
	fields := idField(id)
	fields["lane"] = structpb.NewStringValue(laneID)
	fields["pos"] = structpb.NewNumberValue(pos)
	return c.exec(ctx, "MoveVehicle", fields)
}

func (c *Client) EdgeIDs(ctx context.Context) ([]string, error) {
	return decode(ctx, c, "EdgeIDs", nil, asStrings)
}

func (c *Client) EdgeLaneCount(ctx context.Context, edgeID string) (int, error) {
	return decode(ctx, c, "EdgeLaneCount", idField(edgeID), asCount)
}

func (c *Client) LaneShape(ctx context.Context, laneID string) ([]geometry.Point, error) {
	return decode(ctx, c, "LaneShape", idField(laneID), asPoints)
}

func (c *Client) LaneWidth(ctx context.Context, laneID string) (float64, error) {
	return decode(ctx, c, "LaneWidth", idField(laneID), asNumber)
}

func (c *Client) SignalIDs(ctx context.Context) ([]string, error) {
	return decode(ctx, c, "SignalIDs", nil, asStrings)
}

func (c *Client) SignalControlledLanes(ctx context.Context, id string) ([]string, error) {
	return decode(ctx, c, "SignalControlledLanes", idField(id), asStrings)
}

func (c *Client) SignalState(ctx context.Context, id string) (string, error) {
	return decode(ctx, c, "SignalState", idField(id), asString)
}

func (c *Client) SetSignalState(ctx context.Context, id string, state string) error {
	fields := idField(id)
	fields["state"] = structpb.NewStringValue(state)
	return c.exec(ctx, "SetSignalState", fields)
}

func (c *Client) SignalPhaseDuration(ctx context.Context, id string) (float64, error) {
	return decode(ctx, c, "SignalPhaseDuration", idField(id), asNumber)
}

func (c *Client) SignalProgram(ctx context.Context, id string) (string, error) {
	return decode(ctx, c, "SignalProgram", idField(id), asString)
}

func (c *Client) SetSignalProgram(ctx context.Context, id string, programID string) error {
	fields := idField(id)
	fields["program"] = structpb.NewStringValue(programID)
	return c.exec(ctx, "SetSignalProgram", fields)
}

func (c *Client) SignalLogics(ctx context.Context, id string) ([]entity.Logic, error) {
	return decode(ctx, c, "SignalLogics", idField(id), asLogics)
}

func (c *Client) SetSignalLogic(ctx context.Context, id string, logic entity.Logic) error {
	fields := idField(id)
	fields["logic"] = logicValue(logic)
	return c.exec(ctx, "SetSignalLogic", fields)
}

var _ entity.IEngine = (*Client)(nil)
