package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/agentworkforce/relaycollab/internal/ot"
	"github.com/agentworkforce/relaycollab/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

var errResyncRequired = errors.New("replica out of sync")

type Logger interface {
	Printf(format string, args ...any)
}

// Options configures a Mirror. Jitter spreads reconnect delays by up to
// that ratio (0.0-1.0).
type Options struct {
	BaseURL   string
	Token     string
	Room      string
	LocalFile string
	Logger    Logger

	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	Debounce      time.Duration
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Jitter        float64
	HTTPClient    *http.Client
	MaxFrameBytes int64
}

// Mirror keeps a local file in step with one room: remote edits are
// written to the file, and local saves are pushed back as content updates.
type Mirror struct {
	baseURL       string
	token         string
	room          string
	localFile     string
	logger        Logger
	dialTimeout   time.Duration
	writeTimeout  time.Duration
	debounce      time.Duration
	baseDelay     time.Duration
	maxDelay      time.Duration
	jitter        float64
	rng           *rand.Rand
	httpClient    *http.Client
	maxFrameBytes int64

	mu      sync.Mutex
	content string
	version uint64
	synced  bool
}

func New(opts Options) (*Mirror, error) {
	room := strings.TrimSpace(opts.Room)
	if err := collab.ValidateRoomID(room); err != nil {
		return nil, fmt.Errorf("room: %w", err)
	}
	localFile := strings.TrimSpace(opts.LocalFile)
	if localFile == "" {
		return nil, fmt.Errorf("local file is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	m := &Mirror{
		baseURL:       baseURL,
		token:         strings.TrimSpace(opts.Token),
		room:          room,
		localFile:     filepath.Clean(localFile),
		logger:        opts.Logger,
		dialTimeout:   opts.DialTimeout,
		writeTimeout:  opts.WriteTimeout,
		debounce:      opts.Debounce,
		baseDelay:     opts.BaseDelay,
		maxDelay:      opts.MaxDelay,
		jitter:        clampJitterRatio(opts.Jitter),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		httpClient:    opts.HTTPClient,
		maxFrameBytes: opts.MaxFrameBytes,
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = 15 * time.Second
	}
	if m.writeTimeout <= 0 {
		m.writeTimeout = 10 * time.Second
	}
	if m.debounce <= 0 {
		m.debounce = 50 * time.Millisecond
	}
	if m.baseDelay <= 0 {
		m.baseDelay = 100 * time.Millisecond
	}
	if m.maxDelay <= 0 {
		m.maxDelay = 5 * time.Second
	}
	if m.maxFrameBytes <= 0 {
		m.maxFrameBytes = 1 << 20
	}
	if err := os.MkdirAll(filepath.Dir(m.localFile), 0o755); err != nil {
		return nil, err
	}
	return m, nil
}

// Snapshot returns the replica's text and version.
func (m *Mirror) Snapshot() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, m.version
}

// Run mirrors the room until ctx is done, reconnecting with backoff after
// connection failures.
func (m *Mirror) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := m.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			attempt = 0
		}
		delay := jitteredIntervalWithSample(m.retryDelay(attempt+1), m.jitter, m.rng.Float64())
		m.logf("mirror connection for %s ended: %v; reconnecting in %s", m.room, err, delay)
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

// RunOnce serves a single connection until it fails or ctx is done.
func (m *Mirror) RunOnce(ctx context.Context) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(m.maxFrameBytes)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(m.localFile)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(m.localFile), err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return m.readLoop(ctx, conn)
	})
	group.Go(func() error {
		return m.watchLoop(ctx, conn, watcher)
	})
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	return err
}

func (m *Mirror) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	endpoint := m.baseURL + "/v1/rooms/" + url.PathEscape(m.room) + "/ws"
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: m.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: http %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}

func (m *Mirror) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if messageType != websocket.MessageText {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			m.logf("mirror: dropping malformed frame: %v", err)
			continue
		}
		if err := m.apply(msg); err != nil {
			if !errors.Is(err, errResyncRequired) {
				return err
			}
			_, version := m.Snapshot()
			if err := m.send(ctx, conn, protocol.SyncRequest("", m.room, version)); err != nil {
				return err
			}
		}
	}
}

// apply folds one server frame into the replica. errResyncRequired means
// the replica can no longer follow the operation stream.
func (m *Mirror) apply(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeSyncResponse:
		m.mu.Lock()
		m.content = msg.Content
		m.version = msg.Version
		m.synced = true
		content := m.content
		m.mu.Unlock()
		return m.writeLocal(content)

	case protocol.TypeOperationAck:
		m.mu.Lock()
		if !m.synced || msg.Version <= m.version {
			m.mu.Unlock()
			return nil
		}
		if msg.Version != m.version+1 {
			m.logf("mirror: version gap %d -> %d", m.version, msg.Version)
			m.mu.Unlock()
			return errResyncRequired
		}
		next, err := ot.ApplyTo(m.content, *msg.Operation)
		if err != nil {
			m.logf("mirror: operation %s at v%d does not apply locally: %v", msg.Operation, msg.Version, err)
			m.mu.Unlock()
			return errResyncRequired
		}
		m.content = next
		m.version = msg.Version
		m.mu.Unlock()
		return m.writeLocal(next)

	case protocol.TypeError:
		m.logf("mirror: server error %s: %s", msg.Code, msg.Detail)
		return errResyncRequired

	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		m.logf("mirror: %s %s", msg.UserID, msg.Type)
		return nil

	default:
		return nil
	}
}

func (m *Mirror) watchLoop(ctx context.Context, conn *websocket.Conn, watcher *fsnotify.Watcher) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			m.logf("mirror: watcher error: %v", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(ev.Name) != m.localFile {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(m.debounce)
			}
		case <-timer.C:
			if err := m.pushLocal(ctx, conn); err != nil {
				return err
			}
		}
	}
}

// pushLocal sends the local file to the room when it differs from the
// replica, then asks for a sync to learn the resulting version.
func (m *Mirror) pushLocal(ctx context.Context, conn *websocket.Conn) error {
	data, err := os.ReadFile(m.localFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	synced := m.synced
	unchanged := hashString(m.content) == hashBytes(data)
	version := m.version
	m.mu.Unlock()
	if !synced || unchanged {
		return nil
	}
	m.logf("mirror: pushing local edit of %s (%d bytes)", m.localFile, len(data))
	if err := m.send(ctx, conn, protocol.ContentUpdate("", m.room, string(data))); err != nil {
		return err
	}
	return m.send(ctx, conn, protocol.SyncRequest("", m.room, version))
}

func (m *Mirror) send(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (m *Mirror) writeLocal(content string) error {
	current, err := os.ReadFile(m.localFile)
	if err == nil && hashBytes(current) == hashString(content) {
		return nil
	}
	return writeFileAtomic(m.localFile, []byte(content), 0o644)
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

func (m *Mirror) retryDelay(attempt int) time.Duration {
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}
	if delay > m.maxDelay {
		return m.maxDelay
	}
	return delay
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
