// Package broker wires the config loader, reliable and datagram
// transports, and the classifier/router into the service orchestrator
// (C5). Grounded on cmd/protei-monitoring/main.go's Application struct
// (ordered Start/Stop, context-bounded shutdown) and on the original
// TelemetryService::run (ordered sub-manager start/stop, single atomic
// running flag).
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/protei/telemetry-broker/internal/classify"
	"github.com/protei/telemetry-broker/internal/config"
	"github.com/protei/telemetry-broker/internal/logger"
	"github.com/protei/telemetry-broker/internal/metrics"
	"github.com/protei/telemetry-broker/internal/transport/dgm"
	"github.com/protei/telemetry-broker/internal/transport/rel"
)

// Transport identifies which wire protocol an ingress message arrived on.
type Transport string

const (
	TransportREL Transport = "REL"
	TransportDGM Transport = "DGM"
)

// shutdownBudget is the bounded-wait ceiling for the whole shutdown
// sequence under no load (spec.md §8 invariant 4: "≤ 1 s under no-load").
const shutdownBudget = 1 * time.Second

// Stats folds what would otherwise be a standalone health package into
// plain counters the admin surface reads directly (DESIGN.md: pkg/health
// deleted, folded here and into internal/metrics).
type Stats struct {
	TelemetryIngress atomic.Int64
	TelemetryEgress  atomic.Int64
	CommandsRouted   atomic.Int64
	CommandsDropped  atomic.Int64
}

// Broker is the service orchestrator (C5).
type Broker struct {
	cfg *config.Config
	log *logger.Logger
	met *metrics.Metrics

	running atomic.Bool
	Stats   Stats

	relTelemetry map[string]*rel.TelemetryIntake
	relCommand   map[string]*rel.CommandEgress
	publisher    *rel.Publisher
	cmdIntake    *rel.CommandIntake

	dgmTelemetry map[string]*dgm.Intake
	dgmCamera    *dgm.Egress
	dgmMapping   *dgm.Egress

	telemetryCh chan rel.IngressMessage
	commandCh   chan []byte
	dgmCh       chan dgm.IngressMessage
	serveErrs   chan error

	dispatcher *rel.Dispatcher

	wg sync.WaitGroup
}

// RelTelemetryAddr returns the actual bound address of uav's reliable
// telemetry intake socket, useful when the config binds an ephemeral
// port (0) as tests do.
func (b *Broker) RelTelemetryAddr(uav string) (string, bool) {
	intake, ok := b.relTelemetry[uav]
	if !ok {
		return "", false
	}
	return intake.Addr(), true
}

// RelCommandAddr returns the actual bound address of uav's reliable
// command egress socket.
func (b *Broker) RelCommandAddr(uav string) (string, bool) {
	egress, ok := b.relCommand[uav]
	if !ok {
		return "", false
	}
	return egress.Addr(), true
}

// PublisherAddr returns the actual bound address of the UI topic
// publisher socket.
func (b *Broker) PublisherAddr() string { return b.publisher.Addr() }

// CommandIntakeAddr returns the actual bound address of the UI command
// intake socket.
func (b *Broker) CommandIntakeAddr() string { return b.cmdIntake.Addr() }

// DgmTelemetryAddr returns the actual bound address of uav's datagram
// telemetry intake socket.
func (b *Broker) DgmTelemetryAddr(uav string) (string, bool) {
	intake, ok := b.dgmTelemetry[uav]
	if !ok {
		return "", false
	}
	return intake.Addr(), true
}

// New constructs an unstarted Broker over the given config and logger.
func New(cfg *config.Config, log *logger.Logger, met *metrics.Metrics) *Broker {
	return &Broker{
		cfg:          cfg,
		log:          log,
		met:          met,
		relTelemetry: make(map[string]*rel.TelemetryIntake),
		relCommand:   make(map[string]*rel.CommandEgress),
		dgmTelemetry: make(map[string]*dgm.Intake),
		telemetryCh:  make(chan rel.IngressMessage, 256),
		commandCh:    make(chan []byte, 64),
		dgmCh:        make(chan dgm.IngressMessage, 256),
		serveErrs:    make(chan error, 32),
	}
}

// Start performs the strictly-ordered startup sequence of spec.md §4.5.
// Config load and log sink are the caller's responsibility (they happen
// before a Broker even exists, mirroring main.go); Start begins at step 3.
func (b *Broker) Start(ctx context.Context) error {
	if b.cfg.UsesReservedCommandPort() {
		b.log.Warn("udp_command_port configured but not implemented; ignoring",
			"port", b.cfg.UI.DgmCommandPort)
	}

	if err := b.bindReliableSockets(); err != nil {
		b.closeReliableSockets()
		return fmt.Errorf("bind reliable sockets: %w", err)
	}

	if err := b.bindDatagramSockets(); err != nil {
		b.closeReliableSockets()
		return fmt.Errorf("bind datagram sockets: %w", err)
	}

	b.startLoops()

	b.running.Store(true)
	b.logStartupSummary()

	return nil
}

func (b *Broker) bindReliableSockets() error {
	serveErrs := b.serveErrs

	for _, uav := range b.cfg.UAVs {
		if uav.RelTelemetryPort >= 0 {
			addr := fmt.Sprintf("%s:%d", uav.IP, uav.RelTelemetryPort)
			intake, err := rel.BindTelemetryIntake(uav.Name, addr, b.telemetryCh)
			if err != nil {
				return err
			}
			b.log.Info("bind success", "socket", "uav-telemetry-intake", "uav", uav.Name, "addr", addr)
			b.relTelemetry[uav.Name] = intake
		}

		addr := fmt.Sprintf("%s:%d", uav.IP, uav.RelCommandPort)
		egress, err := rel.BindCommandEgress(uav.Name, addr)
		if err != nil {
			return err
		}
		b.log.Info("bind success", "socket", "uav-command-egress", "uav", uav.Name, "addr", addr)
		b.relCommand[uav.Name] = egress
	}

	pubAddr := fmt.Sprintf(":%d", b.cfg.UI.RelPublishPort)
	publisher, err := rel.BindPublisher(pubAddr)
	if err != nil {
		return err
	}
	b.log.Info("bind success", "socket", "ui-publisher", "addr", pubAddr)
	b.publisher = publisher

	cmdAddr := fmt.Sprintf(":%d", b.cfg.UI.RelCommandPort)
	cmdIntake, err := rel.BindCommandIntake(cmdAddr, b.commandCh)
	if err != nil {
		return err
	}
	b.log.Info("bind success", "socket", "ui-command-intake", "addr", cmdAddr)
	b.cmdIntake = cmdIntake

	for _, intake := range b.relTelemetry {
		intake.Serve(serveErrs)
	}
	for _, egress := range b.relCommand {
		egress.Serve(serveErrs)
	}
	b.publisher.Serve(serveErrs)
	b.cmdIntake.Serve(serveErrs)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for err := range serveErrs {
			b.log.Error("reliable socket serve error", "error", err.Error())
		}
	}()

	return nil
}

func (b *Broker) closeReliableSockets() {
	for _, intake := range b.relTelemetry {
		intake.Close()
	}
	for _, egress := range b.relCommand {
		egress.Close()
	}
	if b.publisher != nil {
		b.publisher.Close()
	}
	if b.cmdIntake != nil {
		b.cmdIntake.Close()
	}
}

func (b *Broker) bindDatagramSockets() error {
	for _, uav := range b.cfg.UAVs {
		if uav.DgmTelemetryPort < 0 {
			continue
		}
		addr := fmt.Sprintf("%s:%d", uav.IP, uav.DgmTelemetryPort)
		intake, err := dgm.BindIntake(uav.Name, addr, b.dgmCh, func() {
			b.met.DatagramsDropped.Inc()
			b.log.Warn("datagram dropped: oversized", "uav", uav.Name)
		})
		if err != nil {
			return err
		}
		b.log.Info("bind success", "socket", "uav-dgm-intake", "uav", uav.Name, "addr", addr)
		b.dgmTelemetry[uav.Name] = intake
	}

	if b.cfg.UI.DgmCameraPort >= 0 {
		camera, err := dgm.DialEgress(fmt.Sprintf("127.0.0.1:%d", b.cfg.UI.DgmCameraPort))
		if err != nil {
			return err
		}
		b.dgmCamera = camera
	}
	if b.cfg.UI.DgmMappingPort >= 0 {
		mapping, err := dgm.DialEgress(fmt.Sprintf("127.0.0.1:%d", b.cfg.UI.DgmMappingPort))
		if err != nil {
			return err
		}
		b.dgmMapping = mapping
	}

	return nil
}

func (b *Broker) startLoops() {
	b.dispatcher = rel.NewDispatcher(b.telemetryCh, b.commandCh, b.onRelTelemetry, b.onCommand)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatcher.Run()
	}()

	for _, intake := range b.dgmTelemetry {
		intake := intake
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			intake.Run()
		}()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runDgmFanout()
	}()
}

// runDgmFanout drains the shared datagram ingress channel, classifying
// and forwarding each frame — the DGM-side counterpart of the REL
// dispatcher's onRelTelemetry path.
func (b *Broker) runDgmFanout() {
	for msg := range b.dgmCh {
		b.onDgmTelemetry(msg)
	}
}

func (b *Broker) onRelTelemetry(msg rel.IngressMessage) {
	b.handleTelemetry(msg.UAV, TransportREL, msg.Payload)
}

func (b *Broker) onDgmTelemetry(msg dgm.IngressMessage) {
	b.handleTelemetry(msg.UAV, TransportDGM, msg.Payload)
}

func (b *Broker) handleTelemetry(uav string, transport Transport, payload []byte) {
	frame := classify.ClassifyTelemetry(uav, payload)
	b.Stats.TelemetryIngress.Add(1)
	b.met.TelemetryIngress.WithLabelValues(uav, string(transport), string(frame.Topic)).Inc()

	switch transport {
	case TransportREL:
		delivered, err := b.publisher.Publish(frame.FullTopic, frame.Payload)
		if err != nil {
			b.log.Warn("publish failed, frame dropped", "topic", frame.FullTopic, "error", err.Error())
		}
		if delivered > 0 {
			b.Stats.TelemetryEgress.Add(1)
			b.met.TelemetryEgress.WithLabelValues(string(transport), string(frame.Topic)).Inc()
			b.log.Info("published topic", "topic", frame.FullTopic, "bytes", len(frame.Payload))
		}

	case TransportDGM:
		var egress *dgm.Egress
		switch frame.Topic {
		case classify.TopicCamera:
			egress = b.dgmCamera
		case classify.TopicMapping:
			egress = b.dgmMapping
		default:
			// unknown topic on the datagram path has no UI listener;
			// zero egress messages is the documented asymmetry
			// (spec.md §9 open question, pinned in DESIGN.md).
			return
		}
		if egress == nil {
			return
		}
		if err := egress.Send(frame.FullTopic, frame.Payload); err != nil {
			b.log.Warn("datagram send failed, frame dropped", "topic", frame.FullTopic, "error", err.Error())
			return
		}
		b.Stats.TelemetryEgress.Add(1)
		b.met.TelemetryEgress.WithLabelValues(string(transport), string(frame.Topic)).Inc()
		b.log.Info("published topic", "topic", frame.FullTopic, "bytes", len(frame.Payload))
	}
}

func (b *Broker) onCommand(raw []byte) {
	b.log.Debug("received from ui", "raw", string(raw))

	cmd := classify.ParseCommand(raw)
	if cmd.Fallback {
		b.log.Debug("command routed via legacy fallback", "target", cmd.TargetUAV, "ui_tag", cmd.UITag)
	}

	egress, ok := b.relCommand[cmd.TargetUAV]
	if !ok {
		b.Stats.CommandsDropped.Add(1)
		b.met.CommandsDropped.Inc()
		b.log.Warn("command dropped: unknown target", "target", cmd.TargetUAV, "ui_tag", cmd.UITag)
		return
	}

	if err := egress.Send([]byte(cmd.Body)); err != nil {
		b.log.Warn("command send failed", "target", cmd.TargetUAV, "error", err.Error())
		return
	}

	b.Stats.CommandsRouted.Add(1)
	b.met.CommandsRouted.WithLabelValues(cmd.TargetUAV).Inc()
	b.log.Info(fmt.Sprintf("FORWARDING TO %s: %s", cmd.TargetUAV, cmd.Body), "ui_tag", cmd.UITag)
}

func (b *Broker) logStartupSummary() {
	tcpPorts := make([]int, 0, len(b.cfg.UAVs)*2+2)
	udpPorts := make([]int, 0, len(b.cfg.UAVs)+2)

	for _, uav := range b.cfg.UAVs {
		if uav.RelTelemetryPort >= 0 {
			tcpPorts = append(tcpPorts, uav.RelTelemetryPort)
		}
		tcpPorts = append(tcpPorts, uav.RelCommandPort)
		if uav.DgmTelemetryPort >= 0 {
			udpPorts = append(udpPorts, uav.DgmTelemetryPort)
		}
	}
	tcpPorts = append(tcpPorts, b.cfg.UI.RelPublishPort, b.cfg.UI.RelCommandPort)
	if b.cfg.UI.DgmCameraPort >= 0 {
		udpPorts = append(udpPorts, b.cfg.UI.DgmCameraPort)
	}
	if b.cfg.UI.DgmMappingPort >= 0 {
		udpPorts = append(udpPorts, b.cfg.UI.DgmMappingPort)
	}

	b.log.Info("service started", "uav_count", len(b.cfg.UAVs), "tcp_ports", tcpPorts, "udp_ports", udpPorts)
}

// Shutdown stops the dispatcher, stops the datagram intake loops and closes
// every bound socket, with a bounded overall wait so the process exits
// within shutdownBudget under no load. The log sink is not flushed or
// closed here; it stays open.
func (b *Broker) Shutdown(ctx context.Context) error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}

	b.log.Info("shutdown start")

	ctx, cancel := context.WithTimeout(ctx, shutdownBudget)
	defer cancel()

	b.dispatcher.Stop()

	for _, intake := range b.dgmTelemetry {
		intake.Close()
	}
	close(b.dgmCh)

	// Sockets are closed before waiting on the goroutine group: the
	// serveErrs drain goroutine (a group member) only returns once that
	// channel is closed, and the channel is closed only after every
	// reliable listener is shut down, since the Serve goroutines (not group
	// members) send on it. Closing order is datagram intakes, then reliable
	// sockets, then datagram egress senders; this is not the reverse of
	// binding order, and sockets held in maps close in map iteration order.
	b.closeReliableSockets()
	close(b.serveErrs)
	if b.dgmCamera != nil {
		b.dgmCamera.Close()
	}
	if b.dgmMapping != nil {
		b.dgmMapping.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.log.Warn("shutdown wait exceeded budget")
	}

	b.log.Info("shutdown complete")
	return nil
}
