package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/harborview/realtime/internal/domain"
	"github.com/harborview/realtime/internal/logging"
	"github.com/harborview/realtime/internal/metrics"
	"github.com/harborview/realtime/internal/protocol"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultStreamMinInterval = 250 * time.Millisecond
)

// ErrStopped is returned by Connect after Stop has shut the manager down.
// All other operations degrade to no-ops or zero values instead.
var ErrStopped = errors.New("manager stopped")

// StreamProducer computes one snapshot for a metric stream tick.
type StreamProducer func(ctx context.Context) (any, error)

// task is a cancellable background goroutine owned by one connection.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the task and waits for it to finish. The cancellation is
// swallowed and never reaches the caller.
func (t *task) stop() {
	t.cancel()
	<-t.done
}

type streamTask struct {
	task
	interval time.Duration
}

// connection is the registry entry for one accepted socket. All fields are
// owned by the Manager goroutine; background tasks only touch the writer.
type connection struct {
	id            uuid.UUID
	workspaceID   string
	identity      domain.Identity
	writer        *connWriter
	subscriptions map[string]struct{}
	rooms         map[string]struct{} // room names, not keys
	streams       map[string]*streamTask
	settings      map[string]any
	heartbeat     *task
	connectedAt   time.Time
}

// RoomKey forms the registry key for a room. Rooms are scoped to one
// workspace; the same name in two workspaces is two distinct rooms.
func RoomKey(workspaceID, room string) string {
	return workspaceID + ":" + room
}

// --- Command types ---

type managerCmd interface{ isManagerCmd() }

type baseManagerCmd struct{}

func (baseManagerCmd) isManagerCmd() {}

type connectCmd struct {
	baseManagerCmd
	socket       *websocket.Conn
	id           uuid.UUID
	workspaceID  string
	identity     domain.Identity
	errorChannel chan error
}

type disconnectCmd struct {
	baseManagerCmd
	id          uuid.UUID
	workspaceID string
	origin      string
	doneChannel chan struct{}
}

type sendPersonalCmd struct {
	baseManagerCmd
	id           uuid.UUID
	envelope     protocol.Envelope
	replyChannel chan bool
}

type broadcastCmd struct {
	baseManagerCmd
	workspaceID string
	envelope    protocol.Envelope
	exclude     *uuid.UUID
}

type subscribeCmd struct {
	baseManagerCmd
	id         uuid.UUID
	eventTypes []string
}

type unsubscribeCmd struct {
	baseManagerCmd
	id         uuid.UUID
	eventTypes []string
}

type joinRoomCmd struct {
	baseManagerCmd
	id   uuid.UUID
	room string
}

type leaveRoomCmd struct {
	baseManagerCmd
	id   uuid.UUID
	room string
}

type broadcastRoomCmd struct {
	baseManagerCmd
	roomKey  string
	envelope protocol.Envelope
	exclude  *uuid.UUID
}

type sendToUserCmd struct {
	baseManagerCmd
	userID       string
	envelope     protocol.Envelope
	replyChannel chan bool
}

type startStreamCmd struct {
	baseManagerCmd
	id           uuid.UUID
	streamType   string
	producer     StreamProducer
	interval     time.Duration
	replyChannel chan bool
}

type stopStreamCmd struct {
	baseManagerCmd
	id           uuid.UUID
	streamType   string
	replyChannel chan bool
}

type connectionInfoCmd struct {
	baseManagerCmd
	id           uuid.UUID
	replyChannel chan *ConnectionInfo
}

type updateSettingsCmd struct {
	baseManagerCmd
	id       uuid.UUID
	settings map[string]any
}

type countCmd struct {
	baseManagerCmd
	workspaceID  string
	replyChannel chan int
}

type stopManagerCmd struct {
	baseManagerCmd
}

// ConnectionInfo is the snapshot returned for a get_connection_info frame.
type ConnectionInfo struct {
	ConnectionID  string         `json:"connection_id"`
	WorkspaceID   string         `json:"workspace_id"`
	UserID        string         `json:"user_id"`
	Subscriptions []string       `json:"subscriptions"`
	Rooms         []string       `json:"rooms"`
	Streams       []string       `json:"streams"`
	Settings      map[string]any `json:"settings,omitempty"`
	ConnectedAt   string         `json:"connected_at"`
}

// Options configures a Manager.
type Options struct {
	Clock             clockwork.Clock
	HeartbeatInterval time.Duration
	StreamMinInterval time.Duration

	// OnWorkspaceActive fires when a workspace gains its first local
	// connection, OnWorkspaceEmpty when it loses its last one. Both run
	// on their own goroutine so registry work is never blocked.
	OnWorkspaceActive func(workspaceID string)
	OnWorkspaceEmpty  func(workspaceID string)
}

// Manager owns every connection registry for this process: workspace
// buckets, rooms, subscriptions and stream tasks. A single goroutine
// consumes typed commands, so no two registry mutations ever interleave.
type Manager struct {
	cmdCh             chan managerCmd
	clock             clockwork.Clock
	heartbeatInterval time.Duration
	streamMinInterval time.Duration
	onWorkspaceActive func(string)
	onWorkspaceEmpty  func(string)

	connections map[uuid.UUID]*connection
	workspaces  map[string]map[uuid.UUID]*connection
	rooms       map[string]map[uuid.UUID]struct{}
	streamCount int

	done chan struct{}
}

// NewManager creates a Manager and starts its command loop.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.StreamMinInterval <= 0 {
		opts.StreamMinInterval = defaultStreamMinInterval
	}

	m := &Manager{
		cmdCh:             make(chan managerCmd, 256),
		clock:             opts.Clock,
		heartbeatInterval: opts.HeartbeatInterval,
		streamMinInterval: opts.StreamMinInterval,
		onWorkspaceActive: opts.OnWorkspaceActive,
		onWorkspaceEmpty:  opts.OnWorkspaceEmpty,
		connections:       make(map[uuid.UUID]*connection),
		workspaces:        make(map[string]map[uuid.UUID]*connection),
		rooms:             make(map[string]map[uuid.UUID]struct{}),
		done:              make(chan struct{}),
	}
	go m.run()
	return m
}

// --- Public API ---

// send enqueues a command unless the manager has stopped. The loop stops
// consuming cmdCh after Stop, so every enqueue races against done; callers
// waiting on a reply must race the reply against done the same way.
func (m *Manager) send(cmd managerCmd) bool {
	select {
	case m.cmdCh <- cmd:
		return true
	case <-m.done:
		return false
	}
}

// Connect registers an accepted socket and sends connection_established.
// The caller must supply a fresh id; reusing a live id is an error.
// Fails with ErrStopped after Stop.
func (m *Manager) Connect(socket *websocket.Conn, id uuid.UUID, workspaceID string, identity domain.Identity) error {
	errCh := make(chan error, 1)
	if !m.send(connectCmd{socket: socket, id: id, workspaceID: workspaceID, identity: identity, errorChannel: errCh}) {
		return ErrStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-m.done:
		return ErrStopped
	}
}

// Disconnect removes a connection and tears down every trace of it: the
// workspace bucket, room memberships, subscriptions, stream tasks and the
// heartbeat. Idempotent; disconnecting an unknown id is a no-op.
func (m *Manager) Disconnect(id uuid.UUID, workspaceID string) {
	m.disconnect(id, workspaceID, "client")
}

func (m *Manager) disconnect(id uuid.UUID, workspaceID, origin string) {
	doneCh := make(chan struct{})
	if !m.send(disconnectCmd{id: id, workspaceID: workspaceID, origin: origin, doneChannel: doneCh}) {
		return
	}
	select {
	case <-doneCh:
	case <-m.done:
	}
}

// awaitReply races a command reply against manager shutdown, yielding the
// zero value when Stop wins.
func awaitReply[T any](m *Manager, ch chan T) T {
	select {
	case v := <-ch:
		return v
	case <-m.done:
		var zero T
		return zero
	}
}

// SendPersonal delivers one envelope to one connection. Returns false when
// the connection is unknown or the send failed; the caller decides cleanup.
func (m *Manager) SendPersonal(id uuid.UUID, envelope protocol.Envelope) bool {
	replyCh := make(chan bool, 1)
	if !m.send(sendPersonalCmd{id: id, envelope: envelope, replyChannel: replyCh}) {
		return false
	}
	return awaitReply(m, replyCh)
}

// BroadcastToWorkspace fans an envelope out to every connection in the
// workspace except exclude. When the envelope carries an event type, only
// connections subscribed to it receive the frame. Connections whose send
// fails are disconnected after the pass completes.
func (m *Manager) BroadcastToWorkspace(workspaceID string, envelope protocol.Envelope, exclude *uuid.UUID) {
	m.send(broadcastCmd{workspaceID: workspaceID, envelope: envelope, exclude: exclude})
}

// Subscribe adds event types to a connection's subscription set and
// acknowledges with the resulting set. Unknown ids are a no-op.
func (m *Manager) Subscribe(id uuid.UUID, eventTypes []string) {
	m.send(subscribeCmd{id: id, eventTypes: eventTypes})
}

// Unsubscribe removes event types from a connection's subscription set and
// acknowledges with the removed list. Unknown ids are a no-op.
func (m *Manager) Unsubscribe(id uuid.UUID, eventTypes []string) {
	m.send(unsubscribeCmd{id: id, eventTypes: eventTypes})
}

// JoinRoom adds the connection to a room scoped to its own workspace; the
// room key is always derived from the connection, never from the caller.
func (m *Manager) JoinRoom(id uuid.UUID, room string) {
	m.send(joinRoomCmd{id: id, room: room})
}

// LeaveRoom removes the connection from a room, deleting the room when it
// becomes empty.
func (m *Manager) LeaveRoom(id uuid.UUID, room string) {
	m.send(leaveRoomCmd{id: id, room: room})
}

// BroadcastToRoom delivers an envelope to every member of a room. Members
// whose send fails are removed from the room only; unlike workspace
// broadcasts this never escalates to a full disconnect, because room
// membership is an overlay on a connection, not the connection itself.
func (m *Manager) BroadcastToRoom(roomKey string, envelope protocol.Envelope, exclude *uuid.UUID) {
	m.send(broadcastRoomCmd{roomKey: roomKey, envelope: envelope, exclude: exclude})
}

// SendToUser delivers an envelope to the first connection whose identity
// matches userID. Returns whether such a connection was found.
func (m *Manager) SendToUser(userID string, envelope protocol.Envelope) bool {
	replyCh := make(chan bool, 1)
	if !m.send(sendToUserCmd{userID: userID, envelope: envelope, replyChannel: replyCh}) {
		return false
	}
	return awaitReply(m, replyCh)
}

// StartStream begins a periodic metric push on the connection. A running
// stream of the same type is cancelled and awaited first, so at most one
// stream per (connection, type) is ever active. Intervals below the
// configured minimum are clamped. Returns false for unknown ids.
func (m *Manager) StartStream(id uuid.UUID, streamType string, producer StreamProducer, interval time.Duration) bool {
	replyCh := make(chan bool, 1)
	if !m.send(startStreamCmd{id: id, streamType: streamType, producer: producer, interval: interval, replyChannel: replyCh}) {
		return false
	}
	return awaitReply(m, replyCh)
}

// StopStream cancels a running stream and awaits its termination. Returns
// false when no such stream exists.
func (m *Manager) StopStream(id uuid.UUID, streamType string) bool {
	replyCh := make(chan bool, 1)
	if !m.send(stopStreamCmd{id: id, streamType: streamType, replyChannel: replyCh}) {
		return false
	}
	return awaitReply(m, replyCh)
}

// ConnectionInfo returns a snapshot of one connection's state, or nil for
// unknown ids.
func (m *Manager) ConnectionInfo(id uuid.UUID) *ConnectionInfo {
	replyCh := make(chan *ConnectionInfo, 1)
	if !m.send(connectionInfoCmd{id: id, replyChannel: replyCh}) {
		return nil
	}
	return awaitReply(m, replyCh)
}

// UpdateSettings merges settings into the connection's settings map and
// acknowledges with the resulting state.
func (m *Manager) UpdateSettings(id uuid.UUID, settings map[string]any) {
	m.send(updateSettingsCmd{id: id, settings: settings})
}

// ConnectionCount returns the number of connections in a workspace.
func (m *Manager) ConnectionCount(workspaceID string) int {
	replyCh := make(chan int, 1)
	if !m.send(countCmd{workspaceID: workspaceID, replyChannel: replyCh}) {
		return 0
	}
	return awaitReply(m, replyCh)
}

// Stop closes every connection with a going-away frame and shuts the
// command loop down. Blocks until the loop has exited; safe to call more
// than once.
func (m *Manager) Stop() {
	m.send(stopManagerCmd{})
	<-m.done
}

// --- Command loop ---

func (m *Manager) run() {
	defer close(m.done)

	for cmd := range m.cmdCh {
		switch c := cmd.(type) {
		case connectCmd:
			m.handleConnect(c)
		case disconnectCmd:
			m.handleDisconnect(c.id, c.origin)
			close(c.doneChannel)
		case sendPersonalCmd:
			c.replyChannel <- m.handleSendPersonal(c.id, c.envelope)
		case broadcastCmd:
			m.handleBroadcast(c)
		case subscribeCmd:
			m.handleSubscribe(c)
		case unsubscribeCmd:
			m.handleUnsubscribe(c)
		case joinRoomCmd:
			m.handleJoinRoom(c)
		case leaveRoomCmd:
			m.handleLeaveRoom(c)
		case broadcastRoomCmd:
			m.handleBroadcastRoom(c)
		case sendToUserCmd:
			c.replyChannel <- m.handleSendToUser(c)
		case startStreamCmd:
			c.replyChannel <- m.handleStartStream(c)
		case stopStreamCmd:
			c.replyChannel <- m.handleStopStream(c)
		case connectionInfoCmd:
			c.replyChannel <- m.handleConnectionInfo(c.id)
		case updateSettingsCmd:
			m.handleUpdateSettings(c)
		case countCmd:
			c.replyChannel <- len(m.workspaces[c.workspaceID])
		case stopManagerCmd:
			m.handleStop()
			return
		default:
			slog.Warn("Manager received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (m *Manager) handleConnect(c connectCmd) {
	if _, exists := m.connections[c.id]; exists {
		c.errorChannel <- fmt.Errorf("connection id %s already registered", c.id)
		return
	}

	conn := &connection{
		id:            c.id,
		workspaceID:   c.workspaceID,
		identity:      c.identity,
		writer:        newConnWriter(c.socket, m.clock),
		subscriptions: make(map[string]struct{}),
		rooms:         make(map[string]struct{}),
		streams:       make(map[string]*streamTask),
		settings:      make(map[string]any),
		connectedAt:   m.clock.Now(),
	}

	bucket, exists := m.workspaces[c.workspaceID]
	if !exists {
		bucket = make(map[uuid.UUID]*connection)
		m.workspaces[c.workspaceID] = bucket
		if m.onWorkspaceActive != nil {
			go m.onWorkspaceActive(c.workspaceID)
		}
	}
	bucket[c.id] = conn
	m.connections[c.id] = conn

	conn.heartbeat = m.spawnHeartbeat(conn)

	metrics.ActiveConnections.Set(float64(len(m.connections)))
	metrics.ActiveWorkspaces.Set(float64(len(m.workspaces)))

	established := protocol.NewEnvelope(protocol.TypeConnectionEstablished, map[string]any{
		"connection_id":         c.id.String(),
		"workspace_id":          c.workspaceID,
		"user_id":               c.identity.UserID,
		"heartbeat_interval_ms": m.heartbeatInterval.Milliseconds(),
	}, m.clock.Now())
	m.deliver(conn, established)

	logging.WithConnection(c.id.String()).Debug("Connection registered",
		"workspace_id", c.workspaceID,
		"user_id", c.identity.UserID,
		"workspace_connections", len(bucket),
	)
	c.errorChannel <- nil
}

// handleDisconnect is the single cleanup path for every way a connection
// can die: explicit disconnect, broadcast send failure, heartbeat send
// failure or stream send failure. Idempotent.
func (m *Manager) handleDisconnect(id uuid.UUID, origin string) {
	conn, exists := m.connections[id]
	if !exists {
		return
	}

	for _, st := range conn.streams {
		st.stop()
		m.streamCount--
	}
	conn.streams = make(map[string]*streamTask)

	if conn.heartbeat != nil {
		conn.heartbeat.stop()
	}

	conn.writer.stop()

	delete(m.connections, id)
	if bucket, ok := m.workspaces[conn.workspaceID]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(m.workspaces, conn.workspaceID)
			if m.onWorkspaceEmpty != nil {
				go m.onWorkspaceEmpty(conn.workspaceID)
			}
		}
	}

	for room := range conn.rooms {
		m.removeFromRoom(id, RoomKey(conn.workspaceID, room))
	}

	if origin != "client" {
		metrics.EvictedConnections.WithLabelValues(origin).Inc()
	}
	metrics.ActiveConnections.Set(float64(len(m.connections)))
	metrics.ActiveWorkspaces.Set(float64(len(m.workspaces)))
	metrics.ActiveStreams.Set(float64(m.streamCount))

	logging.WithConnection(id.String()).Debug("Connection removed",
		"workspace_id", conn.workspaceID,
		"origin", origin,
	)
}

func (m *Manager) removeFromRoom(id uuid.UUID, roomKey string) {
	members, ok := m.rooms[roomKey]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(m.rooms, roomKey)
	}
}

func (m *Manager) handleSendPersonal(id uuid.UUID, envelope protocol.Envelope) bool {
	conn, exists := m.connections[id]
	if !exists {
		return false
	}
	return m.deliver(conn, envelope)
}

// deliver encodes and enqueues an envelope on a connection's writer.
func (m *Manager) deliver(conn *connection, envelope protocol.Envelope) bool {
	data, err := envelope.Encode()
	if err != nil {
		slog.Error("Failed to encode envelope", "type", envelope.Type, "error", err)
		return false
	}
	return conn.writer.trySend(data)
}

func (m *Manager) handleBroadcast(c broadcastCmd) {
	bucket, exists := m.workspaces[c.workspaceID]
	if !exists {
		return
	}

	data, err := c.envelope.Encode()
	if err != nil {
		slog.Error("Failed to encode broadcast envelope", "type", c.envelope.Type, "error", err)
		return
	}

	// Failed sends are collected during the pass; the registry is never
	// mutated mid-iteration.
	var failed []uuid.UUID
	for id, conn := range bucket {
		if c.exclude != nil && id == *c.exclude {
			continue
		}
		if c.envelope.Event != "" {
			if _, subscribed := conn.subscriptions[c.envelope.Event]; !subscribed {
				continue
			}
		}
		if !conn.writer.trySend(data) {
			failed = append(failed, id)
		}
	}

	for _, id := range failed {
		slog.Warn("Disconnecting connection after failed broadcast send",
			"connection_id", id.String(),
			"workspace_id", c.workspaceID,
		)
		m.handleDisconnect(id, "broadcast")
	}
}

func (m *Manager) handleSubscribe(c subscribeCmd) {
	conn, exists := m.connections[c.id]
	if !exists {
		return
	}
	for _, et := range c.eventTypes {
		conn.subscriptions[et] = struct{}{}
	}
	ack := protocol.NewEnvelope(protocol.TypeSubscribed, map[string]any{
		"event_types": sortedKeys(conn.subscriptions),
	}, m.clock.Now())
	m.deliver(conn, ack)
}

func (m *Manager) handleUnsubscribe(c unsubscribeCmd) {
	conn, exists := m.connections[c.id]
	if !exists {
		return
	}
	var removed []string
	for _, et := range c.eventTypes {
		if _, ok := conn.subscriptions[et]; ok {
			delete(conn.subscriptions, et)
			removed = append(removed, et)
		}
	}
	sort.Strings(removed)
	ack := protocol.NewEnvelope(protocol.TypeUnsubscribed, map[string]any{
		"event_types": removed,
	}, m.clock.Now())
	m.deliver(conn, ack)
}

func (m *Manager) handleJoinRoom(c joinRoomCmd) {
	conn, exists := m.connections[c.id]
	if !exists {
		return
	}
	// Keyed by the connection's own workspace so disconnect cleanup,
	// which derives keys the same way, always finds the membership.
	key := RoomKey(conn.workspaceID, c.room)
	members, ok := m.rooms[key]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		m.rooms[key] = members
	}
	members[c.id] = struct{}{}
	conn.rooms[c.room] = struct{}{}

	ack := protocol.NewEnvelope(protocol.TypeRoomJoined, map[string]any{
		"room": c.room,
	}, m.clock.Now())
	m.deliver(conn, ack)
}

func (m *Manager) handleLeaveRoom(c leaveRoomCmd) {
	conn, exists := m.connections[c.id]
	if !exists {
		return
	}
	m.removeFromRoom(c.id, RoomKey(conn.workspaceID, c.room))
	delete(conn.rooms, c.room)

	ack := protocol.NewEnvelope(protocol.TypeRoomLeft, map[string]any{
		"room": c.room,
	}, m.clock.Now())
	m.deliver(conn, ack)
}

func (m *Manager) handleBroadcastRoom(c broadcastRoomCmd) {
	members, exists := m.rooms[c.roomKey]
	if !exists {
		return
	}

	data, err := c.envelope.Encode()
	if err != nil {
		slog.Error("Failed to encode room envelope", "type", c.envelope.Type, "error", err)
		return
	}

	var failed []uuid.UUID
	for id := range members {
		if c.exclude != nil && id == *c.exclude {
			continue
		}
		conn, ok := m.connections[id]
		if !ok || !conn.writer.trySend(data) {
			failed = append(failed, id)
		}
	}

	// Failed members leave the room only; the connection itself survives.
	for _, id := range failed {
		m.removeFromRoom(id, c.roomKey)
		if conn, ok := m.connections[id]; ok {
			for room := range conn.rooms {
				if RoomKey(conn.workspaceID, room) == c.roomKey {
					delete(conn.rooms, room)
				}
			}
		}
	}
}

func (m *Manager) handleSendToUser(c sendToUserCmd) bool {
	for _, conn := range m.connections {
		if conn.identity.UserID == c.userID {
			m.deliver(conn, c.envelope)
			return true
		}
	}
	return false
}

func (m *Manager) handleStartStream(c startStreamCmd) bool {
	conn, exists := m.connections[c.id]
	if !exists {
		return false
	}

	interval := c.interval
	if interval < m.streamMinInterval {
		interval = m.streamMinInterval
	}

	// A duplicate replaces the running stream; the prior task is stopped
	// and awaited before the new one starts.
	if prior, ok := conn.streams[c.streamType]; ok {
		prior.stop()
		m.streamCount--
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &streamTask{
		task:     task{cancel: cancel, done: make(chan struct{})},
		interval: interval,
	}
	conn.streams[c.streamType] = st
	m.streamCount++
	metrics.ActiveStreams.Set(float64(m.streamCount))

	go m.runStream(ctx, conn.id, conn.workspaceID, conn.writer, c.streamType, c.producer, interval, st.task.done)

	ack := protocol.NewEnvelope(protocol.TypeStreamStarted, map[string]any{
		"stream_type": c.streamType,
		"interval_ms": interval.Milliseconds(),
	}, m.clock.Now())
	m.deliver(conn, ack)
	return true
}

func (m *Manager) handleStopStream(c stopStreamCmd) bool {
	conn, exists := m.connections[c.id]
	if !exists {
		return false
	}
	st, ok := conn.streams[c.streamType]
	if !ok {
		return false
	}
	st.stop()
	delete(conn.streams, c.streamType)
	m.streamCount--
	metrics.ActiveStreams.Set(float64(m.streamCount))

	ack := protocol.NewEnvelope(protocol.TypeStreamStopped, map[string]any{
		"stream_type": c.streamType,
	}, m.clock.Now())
	m.deliver(conn, ack)
	return true
}

func (m *Manager) handleConnectionInfo(id uuid.UUID) *ConnectionInfo {
	conn, exists := m.connections[id]
	if !exists {
		return nil
	}
	settings := make(map[string]any, len(conn.settings))
	for k, v := range conn.settings {
		settings[k] = v
	}
	return &ConnectionInfo{
		ConnectionID:  conn.id.String(),
		WorkspaceID:   conn.workspaceID,
		UserID:        conn.identity.UserID,
		Subscriptions: sortedKeys(conn.subscriptions),
		Rooms:         sortedKeys(conn.rooms),
		Streams:       sortedStreamTypes(conn.streams),
		Settings:      settings,
		ConnectedAt:   conn.connectedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (m *Manager) handleUpdateSettings(c updateSettingsCmd) {
	conn, exists := m.connections[c.id]
	if !exists {
		return
	}
	for k, v := range c.settings {
		conn.settings[k] = v
	}
	ack := protocol.NewEnvelope(protocol.TypeSettingsUpdated, map[string]any{
		"settings": conn.settings,
	}, m.clock.Now())
	m.deliver(conn, ack)
}

func (m *Manager) handleStop() {
	total := len(m.connections)
	slog.Info("Manager shutting down", "workspaces", len(m.workspaces), "connections", total)

	for id, conn := range m.connections {
		for _, st := range conn.streams {
			st.stop()
		}
		if conn.heartbeat != nil {
			conn.heartbeat.stop()
		}
		conn.writer.stopWithClose(websocket.CloseGoingAway, "server shutting down")
		delete(m.connections, id)
	}
	m.workspaces = make(map[string]map[uuid.UUID]*connection)
	m.rooms = make(map[string]map[uuid.UUID]struct{})
	m.streamCount = 0

	metrics.ActiveConnections.Set(0)
	metrics.ActiveWorkspaces.Set(0)
	metrics.ActiveStreams.Set(0)

	slog.Info("Manager shutdown complete", "disconnected_connections", total)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStreamTypes(streams map[string]*streamTask) []string {
	keys := make([]string, 0, len(streams))
	for k := range streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
