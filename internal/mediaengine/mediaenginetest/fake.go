// Package mediaenginetest provides an in-memory mediaengine.Worker for
// internal/session, internal/room and internal/sharedstate tests, so
// those packages can exercise the object graph without a real pion
// WebRTC stack.
package mediaenginetest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/turn/v3"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
)

var idCounter uint64

func nextId(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, atomic.AddUint64(&idCounter, 1))
}

// Worker is a fake mediaengine.Worker. Each CreateRouter call returns a
// fresh Router sharing nothing with its siblings, matching the real
// worker's one-Router-per-Room contract.
type Worker struct {
	mu      sync.Mutex
	closed  bool
	routers []*Router
}

func NewWorker() *Worker { return &Worker{} }

func (w *Worker) CreateRouter(rtpCodecConfig mediaengine.RawJSON) (mediaengine.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := &Router{}
	w.routers = append(w.routers, r)
	return r, nil
}

// StartEmbeddedTURN is a no-op: no test constructs a real socket, it only
// needs to satisfy mediaengine.Worker.
func (w *Worker) StartEmbeddedTURN(listenAddr string, realm string, authFn turn.AuthHandler) error {
	return nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Router is a fake mediaengine.Router.
type Router struct {
	mu               sync.Mutex
	closed           bool
	onNewProducer    func(mediaengine.ProducerId)
	onNewDataProducer func(mediaengine.DataProducerId)
	transports       []*Transport
}

func (r *Router) RtpCapabilities() mediaengine.RawJSON { return mediaengine.RawJSON(`{"codecs":[]}`) }

func (r *Router) CreateWebRtcTransport(options mediaengine.RawJSON) (mediaengine.Transport, error) {
	return r.newTransport(), nil
}

func (r *Router) CreatePlainTransport(options mediaengine.RawJSON) (mediaengine.Transport, error) {
	return r.newTransport(), nil
}

func (r *Router) newTransport() *Transport {
	t := &Transport{router: r}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t
}

func (r *Router) OnNewProducer(cb func(mediaengine.ProducerId)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNewProducer = cb
}

func (r *Router) OnNewDataProducer(cb func(mediaengine.DataProducerId)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNewDataProducer = cb
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) notifyProducer(id mediaengine.ProducerId) {
	r.mu.Lock()
	cb := r.onNewProducer
	r.mu.Unlock()
	if cb != nil {
		cb(id)
	}
}

func (r *Router) notifyDataProducer(id mediaengine.DataProducerId) {
	r.mu.Lock()
	cb := r.onNewDataProducer
	r.mu.Unlock()
	if cb != nil {
		cb(id)
	}
}

// Transport is a fake mediaengine.Transport.
type Transport struct {
	router *Router
	id     mediaengine.TransportId

	mu        sync.Mutex
	connected bool
	closed    bool
	onClose   []func()

	// FailConnect, when set, makes every Connect call return this error.
	FailConnect error
	// FailProduce, when set, makes Produce return this error.
	FailProduce error
}

func (t *Transport) Id() string {
	if t.id == "" {
		t.id = mediaengine.TransportId(nextId("transport"))
	}
	return string(t.id)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cbs := t.onClose
	t.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (t *Transport) OnClose(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, cb)
}

func (t *Transport) Connect(dtlsParameters mediaengine.RawJSON) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailConnect != nil {
		return t.FailConnect
	}
	if t.connected {
		return fmt.Errorf("transport already connected")
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(kind mediaengine.Kind, rtpParameters mediaengine.RawJSON) (mediaengine.Producer, error) {
	if t.FailProduce != nil {
		return nil, t.FailProduce
	}
	p := &Producer{id: mediaengine.ProducerId(nextId("producer")), kind: kind}
	t.router.notifyProducer(p.id)
	return p, nil
}

func (t *Transport) Consume(producerId mediaengine.ProducerId, rtpCapabilities mediaengine.RawJSON) (mediaengine.Consumer, error) {
	return &Consumer{id: mediaengine.ConsumerId(nextId("consumer")), producerId: producerId}, nil
}

func (t *Transport) ProduceData(sctpStreamParameters mediaengine.RawJSON) (mediaengine.DataProducer, error) {
	dp := &DataProducer{id: mediaengine.DataProducerId(nextId("dataproducer"))}
	t.router.notifyDataProducer(dp.id)
	return dp, nil
}

func (t *Transport) ConsumeData(dataProducerId mediaengine.DataProducerId) (mediaengine.DataConsumer, error) {
	return &DataConsumer{id: mediaengine.DataConsumerId(nextId("dataconsumer")), dataProducerId: dataProducerId}, nil
}

// Producer is a fake mediaengine.Producer.
type Producer struct {
	id      mediaengine.ProducerId
	kind    mediaengine.Kind
	mu      sync.Mutex
	closed  bool
	onClose []func()
}

func (p *Producer) Id() string        { return string(p.id) }
func (p *Producer) Kind() mediaengine.Kind { return p.kind }
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cbs := p.onClose
	p.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}
func (p *Producer) OnClose(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, cb)
}

// Consumer is a fake mediaengine.Consumer, created paused like the real
// media engine.
type Consumer struct {
	id         mediaengine.ConsumerId
	producerId mediaengine.ProducerId

	mu       sync.Mutex
	closed   bool
	resumed  bool
	onClose  []func()
}

func (c *Consumer) Id() string                     { return string(c.id) }
func (c *Consumer) Kind() mediaengine.Kind          { return mediaengine.KindVideo }
func (c *Consumer) ProducerId() mediaengine.ProducerId { return c.producerId }

func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed = true
	return nil
}

func (c *Consumer) Resumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cbs := c.onClose
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (c *Consumer) OnClose(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, cb)
}

// DataProducer is a fake mediaengine.DataProducer.
type DataProducer struct {
	id      mediaengine.DataProducerId
	mu      sync.Mutex
	closed  bool
	onClose []func()
}

func (d *DataProducer) Id() string { return string(d.id) }
func (d *DataProducer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cbs := d.onClose
	d.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}
func (d *DataProducer) OnClose(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = append(d.onClose, cb)
}

// DataConsumer is a fake mediaengine.DataConsumer.
type DataConsumer struct {
	id             mediaengine.DataConsumerId
	dataProducerId mediaengine.DataProducerId
	mu             sync.Mutex
	closed         bool
	onClose        []func()
}

func (d *DataConsumer) Id() string                               { return string(d.id) }
func (d *DataConsumer) DataProducerId() mediaengine.DataProducerId { return d.dataProducerId }
func (d *DataConsumer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cbs := d.onClose
	d.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}
func (d *DataConsumer) OnClose(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = append(d.onClose, cb)
}
