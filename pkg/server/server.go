package server

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/linechat/pkg/database"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

// Server represents the LineChat server
type Server struct {
	db       *database.DB
	listener net.Listener
	config   ServerConfig
	shutdown chan struct{}
	wg       sync.WaitGroup
	metrics  *Metrics
	startTime time.Time

	// chatMu is the single lock guarding all shared chat state: the user
	// registry, the admin store and the live connection table. Admin
	// operations that inspect and then disconnect a user hold it for the
	// whole sequence so the target cannot race a relogin in between.
	chatMu   sync.Mutex
	registry *Registry
	admins   *AdminStore
	conns    map[uint64]*Session

	nextSessionID atomic.Uint64

	httpListener    net.Listener
	metricsListener net.Listener
	httpServer      *http.Server
	metricsServer   *http.Server
}

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort            int
	HTTPPort           int // Public HTTP port for the /ws gateway (0 = disabled)
	MetricsPort        int // Internal HTTP port for /metrics, /health, /status (0 = disabled)
	AcceptMode         string
	AcceptPollInterval int // milliseconds, poll mode only
	MaxLineLength      int
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:            7777,
		HTTPPort:           0,
		MetricsPort:        9090,
		AcceptMode:         "block",
		AcceptPollInterval: 250,
		MaxLineLength:      1024,
	}
}

// NewServer creates a new server instance
func NewServer(dbPath, adminPath string, config ServerConfig) (*Server, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize loggers
	if err := initLoggers(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize loggers: %w", err)
	}

	server := &Server{
		db:        db,
		config:    config,
		shutdown:  make(chan struct{}),
		metrics:   NewMetrics(),
		startTime: time.Now(),
		conns:     make(map[uint64]*Session),
	}
	server.registry = NewRegistry(&server.chatMu)

	admins, err := NewAdminStore(adminPath, &server.chatMu)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load admin accounts: %w", err)
	}
	server.admins = admins

	return server, nil
}

// getServerDataDir returns the server data directory, creating it if needed
func getServerDataDir() (string, error) {
	var dataDir string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dataDir = filepath.Join(xdg, "linechat")
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", "linechat")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}

// initLoggers sets up error and debug loggers
func initLoggers() error {
	dataDir, err := getServerDataDir()
	if err != nil {
		return err
	}

	// Error log goes to stderr and errors.log
	errorLogPath := filepath.Join(dataDir, "errors.log")
	errorFile, err := os.OpenFile(errorLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	// Write startup marker to errors.log (for distinguishing between runs)
	startupMsg := fmt.Sprintf("=== Server started at %s ===\n", time.Now().Format(time.RFC3339))
	if _, err := errorFile.WriteString(startupMsg); err != nil {
		return err
	}

	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	// Debug log goes to /dev/null by default (can be enabled via EnableDebugLogging)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)

	// Redirect standard log to stdout and server.log
	// Truncate server.log on startup to avoid confusion from multiple runs
	serverLogPath := filepath.Join(dataDir, "server.log")
	serverLogFile, err := os.OpenFile(serverLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))

	return nil
}

// EnableDebugLogging enables debug logging to debug.log
func (s *Server) EnableDebugLogging() {
	dataDir, err := getServerDataDir()
	if err != nil {
		log.Printf("Failed to get data directory: %v", err)
		return
	}

	debugLogPath := filepath.Join(dataDir, "debug.log")
	debugLogFile, err := os.OpenFile(debugLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		log.Printf("Failed to open debug.log: %v", err)
		return
	}

	debugLog = log.New(debugLogFile, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start starts the TCP listener, the internal metrics server and, when
// configured, the public WebSocket gateway
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	// Internal metrics server (never expose publicly!)
	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		if reg := s.metrics.Registry(); reg != nil {
			metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		}
		metricsMux.HandleFunc("/health", s.HealthHandler)
		metricsMux.HandleFunc("/status", s.StatusHandler)

		metricsListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.MetricsPort))
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to listen on metrics port: %w", err)
		}
		s.metricsListener = metricsListener
		s.metricsServer = &http.Server{Handler: metricsMux}
		log.Printf("Metrics server listening on %s (/metrics, /health, /status) - INTERNAL ONLY", metricsListener.Addr())

		go func() {
			if err := s.metricsServer.Serve(metricsListener); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public WebSocket gateway (safe to expose publicly)
	if s.config.HTTPPort > 0 {
		publicMux := http.NewServeMux()
		publicMux.HandleFunc("/ws", s.HandleWebSocket)

		httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to listen on HTTP port: %w", err)
		}
		s.httpListener = httpListener
		s.httpServer = &http.Server{Handler: publicMux}
		log.Printf("Public HTTP server listening on %s (/ws)", httpListener.Addr())

		go func() {
			if err := s.httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
				log.Printf("Public HTTP server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	if s.config.AcceptMode == "poll" {
		go s.pollAcceptLoop()
	} else {
		go s.acceptLoop()
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	// Signal shutdown to all goroutines
	close(s.shutdown)

	// Stop accepting new connections
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
		log.Println("TCP listener closed")
	}
	if s.httpServer != nil {
		s.httpServer.Close()
		s.httpServer = nil
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
		s.metricsServer = nil
	}

	// Close all live connections so their session goroutines unblock
	log.Println("Closing all client sessions...")
	s.closeAllConns()

	// Wait for session goroutines to finish
	log.Println("Waiting for session goroutines to finish...")
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		log.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

// closeAllConns force-closes every tracked connection. The conns snapshot is
// taken under the chat lock; the closes happen outside it because the
// registry methods take the same lock.
func (s *Server) closeAllConns() {
	s.chatMu.Lock()
	sessions := make([]*Session, 0, len(s.conns))
	for _, sess := range s.conns {
		sessions = append(sessions, sess)
	}
	s.chatMu.Unlock()

	for _, sess := range sessions {
		sess.Conn.Close()
	}
	s.registry.DisconnectAll()
}

// acceptLoop accepts incoming connections, blocking until the listener is
// closed by Stop
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// pollAcceptLoop accepts connections with a read deadline on the listener so
// the loop can observe shutdown between accept attempts
func (s *Server) pollAcceptLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.config.AcceptPollInterval) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	tcpListener, ok := s.listener.(*net.TCPListener)
	if !ok {
		// Non-TCP listener, fall back to blocking accepts
		s.wg.Add(1)
		go s.acceptLoop()
		return
	}

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		tcpListener.SetDeadline(time.Now().Add(interval))
		conn, err := tcpListener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// handleConnection sets up a session for a fresh connection and runs its
// read loop
func (s *Server) handleConnection(conn net.Conn) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := &Session{
		ID:         s.nextSessionID.Add(1),
		Conn:       NewSafeConn(conn),
		RemoteAddr: conn.RemoteAddr().String(),
		State:      StateAnonymous,
	}

	s.chatMu.Lock()
	s.conns[sess.ID] = sess
	s.chatMu.Unlock()

	s.metrics.RecordSessionCreated()
	debugLog.Printf("New connection from %s (session %d)", sess.RemoteAddr, sess.ID)

	s.wg.Add(1)
	go s.sessionLoop(sess)
}

// sessionLoop reads lines from the connection and dispatches each one
// against the session's current state
func (s *Server) sessionLoop(sess *Session) {
	defer s.wg.Done()
	defer s.cleanupSession(sess)

	scanner := newLineScanner(sess.Conn.Raw(), s.config.MaxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		debugLog.Printf("Session %d [%s]: %q", sess.ID, sess.State, line)

		if err := s.dispatch(sess, line); err != nil {
			if err == errClientQuit {
				debugLog.Printf("Session %d: client quit", sess.ID)
			} else {
				errorLog.Printf("Session %d: dispatch error: %v", sess.ID, err)
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		debugLog.Printf("Session %d: read error: %v", sess.ID, err)
	}
}

// cleanupSession runs exactly once per session, whether the client
// disconnected, quit, or was force-closed
func (s *Server) cleanupSession(sess *Session) {
	sess.Conn.Close()

	s.chatMu.Lock()
	delete(s.conns, sess.ID)
	s.chatMu.Unlock()
	s.registry.Detach(sess.Conn)

	s.metrics.RecordSessionClosed()
	debugLog.Printf("Session %d disconnected (%s)", sess.ID, sess.RemoteAddr)
}

// HealthHandler responds to health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
