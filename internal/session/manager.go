package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wamd/internal/bus"
	"github.com/matheus3301/wamd/internal/config"
	"github.com/matheus3301/wamd/internal/store"
	"github.com/matheus3301/wamd/internal/wa"
)

// ErrNotConnected is returned by Send when the session is not in the
// CONNECTED state.
var ErrNotConnected = errors.New("session not connected")

// ErrLoggedOut is returned by Start when the session has been logged out
// and needs a fresh credential bootstrap.
var ErrLoggedOut = errors.New("session logged out")

// Client is the protocol client surface the manager drives.
type Client interface {
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	SendText(ctx context.Context, peerJID, text string) (wa.SendReceipt, error)
	Events() <-chan wa.Event
	HasCredentials() bool
}

// Ingestor consumes normalized protocol events and turns them into
// persisted records.
type Ingestor interface {
	IngestBatch(ctx context.Context, batchType string, msgs []*wa.RawMessage) error
	ApplyStatusUpdates(ctx context.Context, updates []wa.StatusUpdate) error
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	State            State  `json:"status"`
	LinkedIdentifier string `json:"linkedIdentifier,omitempty"`
}

// Manager owns the single protocol session: it drives the client's
// lifecycle, consumes its event stream in arrival order, and keeps the
// persisted session row and the broadcaster in sync.
type Manager struct {
	sessionID   string
	client      Client
	db          *store.DB
	machine     *Machine
	broadcaster *bus.Broadcaster
	ingestor    Ingestor
	backoff     config.Reconnect
	logger      *zap.Logger

	startMu  sync.Mutex
	starting bool

	sendMu sync.Mutex

	mu       sync.RWMutex
	linkedID string
	attempts int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(
	sessionID string,
	client Client,
	db *store.DB,
	broadcaster *bus.Broadcaster,
	ingestor Ingestor,
	backoff config.Reconnect,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		sessionID:   sessionID,
		client:      client,
		db:          db,
		machine:     NewMachine(),
		broadcaster: broadcaster,
		ingestor:    ingestor,
		backoff:     backoff,
		logger:      logger.Named("session"),
		done:        make(chan struct{}),
	}
}

// Run starts the event worker. It must be called exactly once before
// Start; events are processed one at a time in arrival order.
func (m *Manager) Run(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop tears down the worker and disconnects the client.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.client.Disconnect()
	<-m.done
}

// Start initiates a connection attempt. Calls while already connected
// or while an attempt is in flight are no-ops.
func (m *Manager) Start() error {
	switch m.machine.Current() {
	case LoggedOut:
		return ErrLoggedOut
	case Connected:
		// The socket is live; dialing again would fail and tear down a
		// healthy session.
		return nil
	}

	m.startMu.Lock()
	if m.starting {
		m.startMu.Unlock()
		return nil
	}
	m.starting = true
	m.startMu.Unlock()

	go func() {
		defer func() {
			m.startMu.Lock()
			m.starting = false
			m.startMu.Unlock()
		}()

		if err := m.client.Connect(); err != nil {
			m.logger.Error("connect failed", zap.Error(err))
			m.toState(Disconnected, err.Error())
			m.scheduleReconnect()
		}
	}()
	return nil
}

// Send delivers a text message to a peer. Fails fast with
// ErrNotConnected unless the session is CONNECTED. Sends are serialized
// so delivery order matches call order.
func (m *Manager) Send(ctx context.Context, peerJID, text string) (wa.SendReceipt, error) {
	if m.machine.Current() != Connected {
		return wa.SendReceipt{}, ErrNotConnected
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.client.SendText(ctx, peerJID, text)
}

// Logout unlinks the device and moves the session to its terminal
// state. Safe to call concurrently with reconnect attempts.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.client.Logout(ctx); err != nil {
		return err
	}
	m.toState(LoggedOut, "logged out by user")
	return nil
}

// Status returns a snapshot of the current session state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{State: m.machine.Current(), LinkedIdentifier: m.linkedID}
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	events := m.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, evt)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, evt wa.Event) {
	switch e := evt.(type) {
	case wa.CredentialsUpdated:
		// Persisted on every update, regardless of connection state.
		if err := m.db.SaveCredentials(m.sessionID, e.Blob); err != nil {
			m.logger.Error("failed to persist credentials", zap.Error(err))
		}

	case wa.QRChallenge:
		m.handleQR(e)

	case wa.ConnectionOpen:
		m.handleOpen(e)

	case wa.ConnectionClosed:
		m.handleClosed(e)

	case wa.InboundMessages:
		if err := m.ingestor.IngestBatch(ctx, e.BatchType, e.Messages); err != nil {
			m.logger.Error("batch ingestion failed",
				zap.String("batch_type", e.BatchType),
				zap.Error(err))
		}

	case wa.DeliveryStatusUpdates:
		if err := m.ingestor.ApplyStatusUpdates(ctx, e.Updates); err != nil {
			m.logger.Error("failed to apply status updates", zap.Error(err))
		}
	}
}

func (m *Manager) handleQR(e wa.QRChallenge) {
	if m.machine.Current() == Connected {
		return
	}
	m.toState(PendingQR, "")

	payload := bus.QRUpdated{QRCode: e.Code}
	png, err := qrcode.Encode(e.Code, qrcode.Medium, 256)
	if err != nil {
		m.logger.Warn("failed to render qr image", zap.Error(err))
	} else {
		payload.QRImage = base64.StdEncoding.EncodeToString(png)
	}
	m.broadcaster.Publish(bus.TopicQRUpdated, payload)
}

func (m *Manager) handleOpen(e wa.ConnectionOpen) {
	m.mu.Lock()
	m.linkedID = e.LinkedIdentifier
	m.attempts = 0
	m.mu.Unlock()

	m.toState(Connected, "")
	if err := m.db.SetSessionConnected(m.sessionID, e.LinkedIdentifier, time.Now().Unix()); err != nil {
		m.logger.Error("failed to persist connection", zap.Error(err))
	}
	m.logger.Info("session connected", zap.String("linked_identifier", e.LinkedIdentifier))
}

func (m *Manager) handleClosed(e wa.ConnectionClosed) {
	if e.Reason.Terminal() {
		m.logger.Warn("session terminated",
			zap.String("reason", string(e.Reason)),
			zap.String("message", e.Message))
		m.toState(LoggedOut, e.Message)
		return
	}

	m.logger.Info("session disconnected",
		zap.String("reason", string(e.Reason)),
		zap.String("message", e.Message))
	m.toState(Disconnected, e.Message)
	m.scheduleReconnect()
}

// toState transitions the machine, persists the new status, and
// broadcasts a status_update. Invalid transitions are dropped: they
// happen when a disconnect event races a user logout.
func (m *Manager) toState(to State, message string) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("skipping state transition", zap.Error(err))
		return
	}

	if err := m.db.SetSessionStatus(m.sessionID, string(to)); err != nil {
		m.logger.Error("failed to persist session status", zap.Error(err))
	}

	m.mu.RLock()
	linked := m.linkedID
	m.mu.RUnlock()

	m.broadcaster.Publish(bus.TopicStatusUpdate, bus.StatusUpdate{
		Status:           string(to),
		LinkedIdentifier: linked,
		Message:          message,
	})
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	delay := m.reconnectDelay(attempt)
	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	go func() {
		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		if m.machine.Current() == LoggedOut {
			return
		}
		m.toState(Initializing, "")
		if err := m.Start(); err != nil {
			m.logger.Warn("reconnect aborted", zap.Error(err))
		}
	}()
}

// reconnectDelay computes a bounded exponential backoff for the given
// attempt number (1-based).
func (m *Manager) reconnectDelay(attempt int) time.Duration {
	delay := m.backoff.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * m.backoff.Multiplier)
		if delay >= m.backoff.MaxDelay {
			return m.backoff.MaxDelay
		}
	}
	if delay > m.backoff.MaxDelay {
		return m.backoff.MaxDelay
	}
	return delay
}
