//go:build linux

package ble

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"github.com/nisc/wearable-core/internal/conn"
	"github.com/nisc/wearable-core/internal/dfu"
)

var _ conn.Transport = (*Peripheral)(nil)

// Peripheral drives a Linux HCI controller and implements conn.Transport.
// Telemetry characteristics surface subscription changes to the connection
// manager; the firmware-update characteristics forward writes to the transfer
// coordinator and push acks back on the status characteristic.
//
// The peripheral GATT surface has no explicit connect event, so link
// establishment is inferred from the first characteristic activity and
// teardown from the last notify session ending. Exactly one central owns the
// link at a time: characteristic activity from any other address is dropped
// at this boundary, before it can reach the coordinator. A central that
// writes without ever subscribing keeps the link "connected" until the
// process restarts; the update protocol requires a status subscription for
// acks, so this does not occur in practice.
type Peripheral struct {
	dev  *linux.Device
	name string
	now  func() time.Time

	peers peerTracker

	mu        sync.Mutex
	mgr       *conn.Manager
	coord     *dfu.Coordinator
	notifiers map[conn.Characteristic]ble.Notifier
	statusNtf ble.Notifier
	advCancel context.CancelFunc
}

// NewPeripheral opens the HCI device and registers the telemetry and
// firmware-update services. Bind must be called before Advertise.
func NewPeripheral(deviceID int, name string, now func() time.Time) (*Peripheral, error) {
	dev, err := linux.NewDevice(ble.OptDeviceID(deviceID))
	if err != nil {
		return nil, fmt.Errorf("open hci%d: %w", deviceID, err)
	}
	ble.SetDefaultDevice(dev)

	p := &Peripheral{
		dev:       dev,
		name:      name,
		now:       now,
		notifiers: make(map[conn.Characteristic]ble.Notifier),
	}

	if err := dev.AddService(p.telemetryService()); err != nil {
		dev.Stop()
		return nil, fmt.Errorf("register telemetry service: %w", err)
	}
	if err := dev.AddService(p.dfuService()); err != nil {
		dev.Stop()
		return nil, fmt.Errorf("register dfu service: %w", err)
	}
	return p, nil
}

// Bind attaches the connection manager and transfer coordinator. Split from
// construction because the manager itself is built over this transport.
func (p *Peripheral) Bind(mgr *conn.Manager, coord *dfu.Coordinator) {
	p.mu.Lock()
	p.mgr = mgr
	p.coord = coord
	p.mu.Unlock()
}

func (p *Peripheral) telemetryService() *ble.Service {
	svc := ble.NewService(TelemetrySvcUUID)
	for c, uuid := range map[conn.Characteristic]ble.UUID{
		conn.CharHeartRate:   HeartRateCharUUID,
		conn.CharTemperature: TempCharUUID,
		conn.CharSpO2:        SpO2CharUUID,
		conn.CharMotion:      MotionCharUUID,
		conn.CharRecord:      RecordCharUUID,
	} {
		svc.NewCharacteristic(uuid).HandleNotify(p.notifyHandler(c))
	}
	return svc
}

func (p *Peripheral) dfuService() *ble.Service {
	svc := ble.NewService(DFUSvcUUID)

	svc.NewCharacteristic(DFUControlCharUUID).HandleWrite(
		ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			if !p.ensurePeer(req.Conn().RemoteAddr().String()) {
				return
			}
			if coord := p.coordinator(); coord != nil {
				p.notifyAck(coord.Control(req.Data(), p.now()))
			}
		}))

	svc.NewCharacteristic(DFUDataCharUUID).HandleWrite(
		ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			if !p.ensurePeer(req.Conn().RemoteAddr().String()) {
				return
			}
			if coord := p.coordinator(); coord != nil {
				p.notifyAck(coord.Data(req.Data(), p.now()))
			}
		}))

	svc.NewCharacteristic(DFUStatusCharUUID).HandleNotify(
		ble.NotifyHandlerFunc(func(req ble.Request, ntf ble.Notifier) {
			addr := req.Conn().RemoteAddr().String()
			if !p.peerSeen(addr) {
				return
			}
			p.mu.Lock()
			p.statusNtf = ntf
			p.mu.Unlock()

			<-ntf.Context().Done()

			p.mu.Lock()
			if p.statusNtf == ntf {
				p.statusNtf = nil
			}
			p.mu.Unlock()
			p.peerGone(addr)
		}))

	return svc
}

// notifyHandler runs for the lifetime of one notify session on a telemetry
// characteristic. The handler goroutine blocks until the peer unsubscribes
// or the link drops.
func (p *Peripheral) notifyHandler(c conn.Characteristic) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, ntf ble.Notifier) {
		addr := req.Conn().RemoteAddr().String()
		if !p.peerSeen(addr) {
			return
		}
		p.mu.Lock()
		p.notifiers[c] = ntf
		mgr := p.mgr
		p.mu.Unlock()
		if mgr != nil {
			mgr.SetSubscription(c, true)
		}

		<-ntf.Context().Done()

		p.mu.Lock()
		if p.notifiers[c] == ntf {
			delete(p.notifiers, c)
		}
		p.mu.Unlock()
		if mgr != nil {
			mgr.SetSubscription(c, false)
		}
		p.peerGone(addr)
	})
}

// peerSeen counts an active notify session and reports link establishment on
// the first one. Returns false for a central that does not own the link.
func (p *Peripheral) peerSeen(addr string) bool {
	first, ok := p.peers.acquire(addr)
	if !ok {
		log.Printf("ble: refusing second central %s", addr)
		return false
	}
	if first {
		if mgr := p.manager(); mgr != nil {
			if err := mgr.PeerConnected(addr); err != nil {
				p.peers.forget(addr)
				log.Printf("ble: %s rejected: %v", addr, err)
				return false
			}
		}
	}
	return true
}

// peerGone releases one notify session; the last release reports the
// disconnect. The stack does not surface the HCI reason code here, so the
// manager classifies it as unknown.
func (p *Peripheral) peerGone(addr string) {
	if p.peers.release(addr) {
		if mgr := p.manager(); mgr != nil {
			mgr.PeerDisconnected(0)
		}
	}
}

// ensurePeer reports link establishment for write-first centrals that have
// not opened a notify session yet. Returns false for a central that does not
// own the link; its write never reaches the coordinator.
func (p *Peripheral) ensurePeer(addr string) bool {
	first, ok := p.peers.ensure(addr)
	if !ok {
		log.Printf("ble: dropping write from second central %s", addr)
		return false
	}
	if first {
		if mgr := p.manager(); mgr != nil {
			if err := mgr.PeerConnected(addr); err != nil {
				p.peers.forget(addr)
				log.Printf("ble: %s rejected: %v", addr, err)
				return false
			}
		}
	}
	return true
}

func (p *Peripheral) manager() *conn.Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mgr
}

func (p *Peripheral) coordinator() *dfu.Coordinator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coord
}

func (p *Peripheral) notifyAck(ack dfu.Ack) {
	p.mu.Lock()
	ntf := p.statusNtf
	p.mu.Unlock()
	if ntf == nil {
		return
	}
	if _, err := ntf.Write(ack.Encode()); err != nil {
		log.Printf("ble: ack notify: %v", err)
	}
}

// Advertise starts advertising the service matching the boot mode. The
// advertise call returns when a central connects, so it runs in a restart
// loop until StopAdvertising cancels it.
func (p *Peripheral) Advertise(mode conn.AdvMode) error {
	p.StopAdvertising()

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.advCancel = cancel
	p.mu.Unlock()

	uuid := TelemetrySvcUUID
	if mode == conn.AdvDFU {
		uuid = DFUSvcUUID
	}

	go func() {
		for ctx.Err() == nil {
			err := ble.AdvertiseNameAndServices(ctx, p.name, uuid)
			if err != nil && ctx.Err() == nil {
				log.Printf("ble: advertise: %v", err)
				time.Sleep(time.Second)
			}
		}
	}()
	return nil
}

// StopAdvertising cancels the advertising loop.
func (p *Peripheral) StopAdvertising() error {
	p.mu.Lock()
	cancel := p.advCancel
	p.advCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// RequestParams always declines: the peripheral-side HCI stack exposes no
// connection parameter update procedure, and the link stays usable at the
// parameters the central chose.
func (p *Peripheral) RequestParams(conn.Params) error {
	return conn.ErrParamsDeclined
}

// Notify writes a payload into the characteristic's open notify session.
func (p *Peripheral) Notify(c conn.Characteristic, payload []byte) error {
	p.mu.Lock()
	ntf := p.notifiers[c]
	p.mu.Unlock()
	if ntf == nil {
		return fmt.Errorf("ble: no subscriber on %v", c)
	}
	if _, err := ntf.Write(payload); err != nil {
		return fmt.Errorf("ble: notify %v: %w", c, err)
	}
	return nil
}

// Close stops advertising and releases the HCI device.
func (p *Peripheral) Close() error {
	p.StopAdvertising()
	return p.dev.Stop()
}
