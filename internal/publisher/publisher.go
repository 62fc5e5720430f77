// Package publisher streams UI records to gRPC clients and reports the
// node's calibration phase through the standard gRPC health service.
//
// The FrameStream service is registered by hand: requests and records are
// google.protobuf.Struct messages, so no generated code is needed.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/background"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

// ServiceName is the gRPC service clients subscribe to, and the name its
// health is reported under.
const ServiceName = "grideye.v1.FrameStream"

// FramesOnly is the Subscribe request field that filters out everything
// but frame records.
const FramesOnly = "frames_only"

// Config holds configuration for the gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string
	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int
	// ClientBuffer is how many records a client may fall behind before
	// records are dropped for it.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 16,
	}
}

// Stats counts publisher activity since start.
type Stats struct {
	Clients   int
	Published uint64
	Dropped   uint64
}

// Publisher owns the gRPC server and fans records out to subscribers.
type Publisher struct {
	config Config
	server *grpc.Server
	health *health.Server

	recordCh  chan *structpb.Struct
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	published atomic.Uint64
	dropped   atomic.Uint64
	steady    atomic.Int32 // -1 unknown, 0 calibrating, 1 steady

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id         string
	framesOnly bool
	recordCh   chan *structpb.Struct
}

// frameStreamServer is the handler type of the hand-written service.
type frameStreamServer interface {
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

var frameStreamDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*frameStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "grideye/v1/frame_stream.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(frameStreamServer).Subscribe(req, stream)
}

// NewPublisher creates a Publisher with the FrameStream and health services
// registered. The FrameStream reports NOT_SERVING until a steady frame is
// published.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer < 1 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	p := &Publisher{
		config:   cfg,
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		recordCh: make(chan *structpb.Struct, 64),
		clients:  make(map[string]*clientStream),
		stopCh:   make(chan struct{}),
	}
	p.steady.Store(-1)
	p.server.RegisterService(&frameStreamDesc, p)
	healthpb.RegisterHealthServer(p.server, p.health)
	p.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	p.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		log.Printf("[gRPC] frame stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[gRPC] server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.health.Shutdown()
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	log.Printf("[gRPC] server stopped")
}

// Publish queues m for every subscriber and updates the FrameStream health
// from the record's phase. It never blocks; when the queue is full the
// record is dropped.
func (p *Publisher) Publish(m processor.Message) {
	if !p.running.Load() {
		return
	}
	if phase, ok := m[processor.KeyPhase].(string); ok {
		p.setPhase(phase == background.Steady.String())
	}
	rec, err := toStruct(m)
	if err != nil {
		log.Printf("[gRPC] failed to encode record: %v", err)
		return
	}
	select {
	case p.recordCh <- rec:
		p.published.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) setPhase(steady bool) {
	v := int32(0)
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if steady {
		v, st = 1, healthpb.HealthCheckResponse_SERVING
	}
	if p.steady.Swap(v) != v {
		p.health.SetServingStatus(ServiceName, st)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case rec := <-p.recordCh:
			frame := isFrame(rec)
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if c.framesOnly && !frame {
					continue
				}
				select {
				case c.recordCh <- rec:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe streams records to one client until it goes away or the
// publisher stops.
func (p *Publisher) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	c := &clientStream{
		id:         uuid.NewString(),
		framesOnly: req.GetFields()[FramesOnly].GetBoolValue(),
		recordCh:   make(chan *structpb.Struct, p.config.ClientBuffer),
	}
	if err := p.addClient(c); err != nil {
		return err
	}
	defer p.removeClient(c.id)
	log.Printf("[gRPC] client %s subscribed (frames only: %v)", c.id, c.framesOnly)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[gRPC] client %s disconnected", c.id)
			return nil
		case <-p.stopCh:
			return status.Error(codes.Unavailable, "server shutting down")
		case rec := <-c.recordCh:
			if err := stream.SendMsg(rec); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) addClient(c *clientStream) error {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return status.Errorf(codes.ResourceExhausted, "too many clients (max %d)", p.config.MaxClients)
	}
	p.clients[c.id] = c
	return nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	delete(p.clients, id)
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return Stats{Clients: n, Published: p.published.Load(), Dropped: p.dropped.Load()}
}

// toStruct converts a record through JSON, which also flattens typed
// values such as []float64 and uint8 into Struct-compatible ones.
func toStruct(m processor.Message) (*structpb.Struct, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return s, nil
}

func isFrame(s *structpb.Struct) bool {
	f := s.GetFields()
	_, hasGrid := f[processor.KeyGrid]
	return hasGrid && f[processor.KeySource].GetStringValue() == processor.SourceDevice
}

// Subscription is the client side of a Subscribe stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a record stream on cc.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, framesOnly bool) (*Subscription, error) {
	stream, err := cc.NewStream(ctx, &frameStreamDesc.Streams[0], "/"+ServiceName+"/Subscribe")
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]interface{}{FramesOnly: framesOnly})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next record.
func (s *Subscription) Recv() (processor.Message, error) {
	rec := new(structpb.Struct)
	if err := s.stream.RecvMsg(rec); err != nil {
		return nil, err
	}
	return processor.Message(rec.AsMap()), nil
}
