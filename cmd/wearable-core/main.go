// Command wearable-core runs the wearable's boot arbitration and firmware
// update daemon: it classifies the boot button, selects the boot mode, then
// runs either the telemetry application loop or a firmware-update session
// over BLE. A diagnostics HTTP server and an MQTT uplink to the dock gateway
// run alongside both modes.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nisc/wearable-core/internal/ble"
	"github.com/nisc/wearable-core/internal/bootmode"
	"github.com/nisc/wearable-core/internal/button"
	"github.com/nisc/wearable-core/internal/conn"
	"github.com/nisc/wearable-core/internal/dfu"
	"github.com/nisc/wearable-core/internal/fault"
	"github.com/nisc/wearable-core/internal/flash"
	"github.com/nisc/wearable-core/internal/image"
	"github.com/nisc/wearable-core/internal/status"
	"github.com/nisc/wearable-core/internal/telemetry"
	"github.com/nisc/wearable-core/internal/uplink"
	"github.com/nisc/wearable-core/internal/web"
)

type options struct {
	broker     string
	httpAddr   string
	flashPath  string
	bootPath   string
	faultPath  string
	keyPath    string
	chip       string
	name       string
	pin        int
	hciID      int
	waitWindow time.Duration
	flush      time.Duration
	inactivity time.Duration
	heartbeat  time.Duration
	cause      bootmode.ResetCause
	printFault bool
}

func main() {
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address of the dock gateway")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	flashPath := flag.String("flash", "/var/lib/wearable-core/flash.img", "Flash partition image path")
	bootPath := flag.String("boot-record", "/var/lib/wearable-core/boot.json", "Persisted boot record path")
	faultPath := flag.String("fault-record", "/var/lib/wearable-core/fault.json", "Persisted fault record path")
	keyPath := flag.String("pubkey", "", "Hex-encoded ed25519 public key file (empty disables signature enforcement)")
	chip := flag.String("gpio-chip", button.DefaultChip, "GPIO chip carrying the boot button")
	pin := flag.Int("gpio-pin", button.DefaultPin, "GPIO line of the boot button")
	hciID := flag.Int("hci", 0, "HCI device id of the BLE controller")
	name := flag.String("name", ble.DeviceName, "Advertised device name")
	waitWindow := flag.Duration("wait-window", bootmode.DefaultWaitWindow, "Boot-mode button wait window")
	flush := flag.Duration("flush", telemetry.DefaultFlushInterval, "Telemetry flush interval")
	inactivity := flag.Duration("inactivity", dfu.DefaultInactivity, "Firmware transfer inactivity window")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Uplink heartbeat interval (0 to disable)")
	resetCause := flag.String("reset-cause", "unknown", "Reset cause reported by the platform (power-on, software, watchdog, brownout)")
	printFault := flag.Bool("print-fault", false, "Print the persisted fault record and exit")

	flag.Parse()

	opts := options{
		broker:     *broker,
		httpAddr:   *httpAddr,
		flashPath:  *flashPath,
		bootPath:   *bootPath,
		faultPath:  *faultPath,
		keyPath:    *keyPath,
		chip:       *chip,
		name:       *name,
		pin:        *pin,
		hciID:      *hciID,
		waitWindow: *waitWindow,
		flush:      *flush,
		inactivity: *inactivity,
		heartbeat:  *heartbeat,
		cause:      parseResetCause(*resetCause),
		printFault: *printFault,
	}

	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(opts options) error {
	faultStore := fault.NewFileStore(opts.faultPath)

	if opts.printFault {
		rec, ok, err := faultStore.Load()
		if err != nil {
			return fmt.Errorf("load fault record: %w", err)
		}
		if !ok {
			fmt.Println("no fault recorded")
			return nil
		}
		fmt.Printf("[%s] %s at %s\n", rec.Code, rec.Detail, rec.Time.UTC().Format(time.RFC3339))
		return nil
	}

	recorder := fault.NewRecorder(faultStore, time.Now)

	// Flash and slot management.
	dev, err := flash.OpenFileDevice(opts.flashPath)
	if err != nil {
		return fmt.Errorf("init flash: %w", err)
	}
	defer dev.Close()

	slots := image.NewTrailerManager(dev)

	pubKey, err := loadPublicKey(opts.keyPath)
	if err != nil {
		return err
	}
	validator := image.NewValidator(slots.Capacity(), pubKey)

	// Button edge source and classifier.
	src, err := button.NewRealSource(opts.chip, opts.pin)
	if err != nil {
		return fmt.Errorf("init button: %w", err)
	}
	defer src.Close()

	pump := newButtonPump(button.NewClassifier(
		button.DefaultSettleWindow, button.DefaultMediumHold, button.DefaultLongHold))
	settleTick := time.NewTicker(button.DefaultSettleWindow)
	defer settleTick.Stop()
	go pump.run(src.Edges(), settleTick.C)

	// Boot decision. This is the only point allowed to block startup,
	// bounded by the wait window.
	bootStore := bootmode.NewFileStore(opts.bootPath)
	selector := bootmode.NewSelector(bootStore, slots, opts.waitWindow, bootmode.DefaultGuardAttempts)

	decision, err := selector.Select(context.Background(), pump.Events(), opts.cause)
	var loopErr *bootmode.BootLoopError
	if errors.As(err, &loopErr) {
		log.Printf("boot: %v", loopErr)
	} else if err != nil {
		return fmt.Errorf("boot mode selection: %w", err)
	}
	log.Printf("boot: mode=%v cause=%v hold=%v", decision.Mode, decision.Cause, decision.Hold)

	if decision.Mode == bootmode.FactoryReset {
		return factoryReset(slots, bootStore, faultStore)
	}

	// Transport, connection manager, transfer coordinator.
	per, err := ble.NewPeripheral(opts.hciID, opts.name, time.Now)
	if err != nil {
		return fmt.Errorf("init ble: %w", err)
	}
	mgr := conn.NewManager(per, time.Now)
	coord := dfu.NewCoordinator(dev, slots, validator, opts.inactivity)
	per.Bind(mgr, coord)
	mgr.OnDisconnect(coord.HandleDisconnect)
	defer coord.Close()
	defer mgr.Shutdown()

	sched := telemetry.NewScheduler(mgr, mgr)

	// Uplink to the dock gateway. The wearable is frequently out of dock
	// range; a failed connect must not stop the boot.
	var publisher uplink.Publisher
	var mqttStatus uplink.ConnectionStatus
	if real, err := uplink.NewRealPublisher(opts.broker); err != nil {
		log.Printf("uplink: unavailable, continuing without: %v", err)
	} else {
		publisher = real
		mqttStatus = real
		defer real.Close()
	}

	tracker := status.NewTracker(time.Now(), decision.Mode, status.Config{
		FlushMs:      opts.flush.Milliseconds(),
		InactivityMs: opts.inactivity.Milliseconds(),
		Broker:       opts.broker,
		HTTPPort:     opts.httpAddr,
		FlashPath:    opts.flashPath,
	})
	if rec, ok, err := faultStore.Load(); err == nil && ok {
		tracker.SetFault(&status.FaultInfo{Code: rec.Code, Detail: rec.Detail, Time: rec.Time})
	}

	var srv *web.Server
	var bc broadcaster
	if opts.httpAddr != "" {
		srv = web.New(opts.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("web: server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		bc = srv
		log.Printf("web: status server listening on %s", opts.httpAddr)
	}

	coord.OnComplete(func(err error) {
		switch {
		case err == nil:
			log.Printf("dfu: image staged, test boot pending confirmation")
			publishInstall(publisher, tracker, "FW_STAGED", "")
		case errors.Is(err, flash.ErrProtected):
			recorder.Fatal("active-slot-write", "firmware install touched the protected active slot: %v", err)
		default:
			log.Printf("dfu: image rejected: %v", err)
			publishInstall(publisher, tracker, "FW_REJECTED", err.Error())
		}
	})

	sched.OnRecord(func(rec telemetry.Record) {
		tracker.SetRecord(rec)
		if publisher != nil {
			if err := publisher.PublishRecord(rec); err != nil {
				log.Printf("uplink: record: %v", err)
			}
		}
	})

	if publisher != nil {
		snap := tracker.Snapshot()
		evt := uplink.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(evt); err != nil {
			log.Printf("uplink: startup event: %v", err)
		}
	}

	advMode := conn.AdvTelemetry
	if decision.Mode == bootmode.DFU {
		advMode = conn.AdvDFU
	}
	if err := mgr.Start(advMode); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	log.Printf("started: flush=%v inactivity=%v broker=%s", opts.flush, opts.inactivity, opts.broker)

	ticker := time.NewTicker(opts.flush)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		mode:       decision.Mode,
		selector:   selector,
		slots:      slots,
		coord:      coord,
		mgr:        mgr,
		sched:      sched,
		buttons:    pump,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		web:        bc,
		heartbeat:  opts.heartbeat,
	}, time.Now, ticker.C, sigCh)
}

// confirmer is the slice of the boot selector the run loop needs.
type confirmer interface {
	Confirm() error
}

// counter reports press/hold totals for status consumers.
type counter interface {
	Counts() button.Counts
}

// broadcaster pushes a status snapshot to live dashboard clients.
type broadcaster interface {
	Broadcast()
}

type loopDeps struct {
	mode       bootmode.Mode
	selector   confirmer
	slots      image.Manager
	coord      *dfu.Coordinator
	mgr        *conn.Manager
	sched      *telemetry.Scheduler
	buttons    counter
	publisher  uplink.Publisher
	mqttStatus uplink.ConnectionStatus
	tracker    *status.Tracker
	web        broadcaster
	heartbeat  time.Duration
}

func runLoop(d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()
	confirmed := false

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if d.publisher != nil {
				evt := uplink.SystemEvent{
					Timestamp: now(),
					Event:     "SHUTDOWN",
					Reason:    signalName,
					Retained:  true,
				}
				if d.tracker != nil {
					refreshTracker(d)
					evt.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
				}
				if err := d.publisher.PublishSystem(evt); err != nil {
					log.Printf("uplink: shutdown event: %v", err)
				}
			}
			return nil

		case <-tick:
			t := now()
			d.coord.Tick(t)

			// Telemetry pushes run in every mode except DFU, where the
			// radio budget belongs to the transfer.
			if d.mode != bootmode.DFU {
				d.sched.Flush(t)
			}

			// The first application tick counts as a healthy boot of a
			// pending image: make the swap permanent.
			if !confirmed && d.mode == bootmode.Normal &&
				d.selector != nil && d.slots.State() == image.SlotPending {
				if err := d.selector.Confirm(); err != nil {
					log.Printf("boot: confirm pending image: %v", err)
				} else {
					log.Printf("boot: pending image confirmed")
					confirmed = true
				}
			}

			refreshTracker(d)
			if d.web != nil {
				d.web.Broadcast()
			}

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat && d.publisher != nil {
				lastHeartbeat = t
				evt := uplink.SystemEvent{Timestamp: t, Event: "HEARTBEAT"}
				if d.tracker != nil {
					evt.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := d.publisher.PublishSystem(evt); err != nil {
					log.Printf("uplink: heartbeat: %v", err)
				}
			}
		}
	}
}

// refreshTracker copies live state into the status tracker for HTTP, websocket,
// and uplink consumers.
func refreshTracker(d loopDeps) {
	if d.tracker == nil {
		return
	}
	var counts button.Counts
	if d.buttons != nil {
		counts = d.buttons.Counts()
	}
	d.tracker.Update(d.slots.State(), d.coord.Progress(), counts)

	if ctx, ok := d.mgr.Context(); ok {
		subs := 0
		for _, on := range ctx.Subscriptions {
			if on {
				subs++
			}
		}
		d.tracker.SetLink(&status.LinkInfo{
			PeerAddr:      ctx.PeerAddr,
			ConnectedAt:   ctx.ConnectedAt,
			ParamsOK:      ctx.ParamsAccepted,
			Subscriptions: subs,
		})
	} else {
		d.tracker.SetLink(nil)
	}
	n, last := d.mgr.Stats()
	d.tracker.SetDisconnects(n, last)

	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func publishInstall(p uplink.Publisher, tracker *status.Tracker, event, reason string) {
	if p == nil {
		return
	}
	evt := uplink.SystemEvent{Timestamp: time.Now(), Event: event, Reason: reason}
	if tracker != nil {
		evt.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := p.PublishSystem(evt); err != nil {
		log.Printf("uplink: %s event: %v", event, err)
	}
}

// factoryReset wipes user state: staged firmware, scratch, boot bookkeeping,
// and the fault record. The active image is untouched.
func factoryReset(slots image.Manager, store bootmode.Store, faults fault.Store) error {
	log.Printf("boot: factory reset")
	if err := slots.EraseUpdate(); err != nil {
		return fmt.Errorf("erase update slot: %w", err)
	}
	if err := slots.EraseScratch(); err != nil {
		return fmt.Errorf("erase scratch: %w", err)
	}
	if err := store.Save(bootmode.Record{}); err != nil {
		return fmt.Errorf("reset boot record: %w", err)
	}
	if err := faults.Clear(); err != nil {
		return fmt.Errorf("clear fault record: %w", err)
	}
	log.Printf("boot: factory reset complete")
	return nil
}

// buttonPump owns the classifier: raw edges and settle ticks are serialized
// here, so the classifier itself stays free of locking.
type buttonPump struct {
	mu     sync.Mutex
	cls    *button.Classifier
	events chan button.Event
}

func newButtonPump(cls *button.Classifier) *buttonPump {
	return &buttonPump{cls: cls, events: make(chan button.Event, 4)}
}

// Events returns the classified event channel consumed by the boot selector.
func (p *buttonPump) Events() <-chan button.Event {
	return p.events
}

// Counts returns press/hold totals.
func (p *buttonPump) Counts() button.Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cls.Counts()
}

// run consumes edges until the edge channel closes.
func (p *buttonPump) run(edges <-chan button.Edge, tick <-chan time.Time) {
	for {
		select {
		case e, ok := <-edges:
			if !ok {
				return
			}
			p.mu.Lock()
			evt, fired := p.cls.Edge(e.Pressed, e.Time)
			p.mu.Unlock()
			if fired {
				log.Printf("button: %v (%v)", evt.Kind, evt.Duration)
				select {
				case p.events <- evt:
				default:
					// After boot selection nothing consumes the
					// channel; drop rather than block.
				}
			}
		case t := <-tick:
			p.mu.Lock()
			p.cls.Tick(t)
			p.mu.Unlock()
		}
	}
}

func parseResetCause(s string) bootmode.ResetCause {
	switch s {
	case "power-on":
		return bootmode.ResetPowerOn
	case "software":
		return bootmode.ResetSoftware
	case "watchdog":
		return bootmode.ResetWatchdog
	case "brownout":
		return bootmode.ResetBrownout
	}
	return bootmode.ResetUnknown
}

// loadPublicKey reads a hex-encoded ed25519 public key. An empty path means
// no key is provisioned and signature enforcement is off.
func loadPublicKey(path string) (ed25519.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key: got %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
