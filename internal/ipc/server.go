package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"lyricsync/internal/output"
	"lyricsync/pkg/fileutil"
)

var logger = log.With().Str("component", "ipc").Logger()

const writeTimeout = time.Second

// Server pushes newline-delimited JSON snapshots to every client connected
// to a unix socket, and mirrors the latest one into a state file.
type Server struct {
	socketPath   string
	statePath    string
	lockFilePath string

	listener net.Listener
	lockFile *os.File
	done     chan struct{}
	wg       sync.WaitGroup

	clientConns     map[net.Conn]struct{}
	clientConnsLock sync.Mutex
	last            []byte
	lastLock        sync.Mutex
}

// NewServer 创建服务；statePath 为空时不写状态文件
func NewServer(socketPath, statePath string) *Server {
	return &Server{
		socketPath:   socketPath,
		statePath:    statePath,
		lockFilePath: socketPath + ".lock",
		clientConns:  make(map[net.Conn]struct{}),
	}
}

func (s *Server) Name() string { return "ipc" }

func (s *Server) checkAndCleanOldLock() {
	content, err := os.ReadFile(s.lockFilePath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		logger.Warn().Str("content", string(content)).Msg("Invalid PID in lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}
	// kill(pid, 0) 只检查进程是否存在
	if syscall.Kill(pid, 0) != nil {
		logger.Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(s.lockFilePath)
		return
	}
	logger.Info().Int("existing_pid", pid).Msg("Another process is still running")
}

func (s *Server) acquireLock() error {
	s.checkAndCleanOldLock()

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("another lyricsync instance is already running")
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	// 拿到锁之后再截断，避免清掉别人的 PID
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteString(fmt.Sprintf("%d\n", os.Getpid()))
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	s.lockFile = file
	logger.Info().Str("lock_file", s.lockFilePath).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile == nil {
		return
	}
	syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	s.lockFile.Close()
	os.Remove(s.lockFilePath)
	s.lockFile = nil
	logger.Info().Str("lock_file", s.lockFilePath).Msg("Released process lock")
}

// Start takes the single-instance lock and begins accepting clients.
func (s *Server) Start() error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return err
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return err
	}
	s.listener = listener
	s.done = make(chan struct{})

	logger.Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			logger.Error().Err(err).Msg("Failed to accept IPC connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	s.lastLock.Lock()
	last := s.last
	s.lastLock.Unlock()

	s.clientConnsLock.Lock()
	s.clientConns[conn] = struct{}{}
	if last != nil {
		// 新客户端先拿到最近一次快照
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(last); err != nil {
			logger.Warn().Err(err).Msg("Failed to send initial snapshot")
		}
	}
	s.clientConnsLock.Unlock()
	logger.Debug().Msg("Client connected")

	// 客户端只读，这里等它断开
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}

	s.clientConnsLock.Lock()
	delete(s.clientConns, conn)
	s.clientConnsLock.Unlock()
	conn.Close()
	logger.Debug().Msg("Client disconnected")
}

// Publish implements output.Publisher.
func (s *Server) Publish(_ context.Context, snap output.Snapshot) error {
	payload, err := snap.Marshal()
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	s.lastLock.Lock()
	s.last = payload
	s.lastLock.Unlock()

	var errs []error
	if s.statePath != "" {
		if err := fileutil.WriteFileAtomic(s.statePath, payload, 0o644); err != nil {
			errs = append(errs, err)
		}
	}

	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()
	for conn := range s.clientConns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(payload); err != nil {
			logger.Warn().Err(err).Msg("Failed to write to client, removing")
			conn.Close()
			delete(s.clientConns, conn)
		}
	}
	return errors.Join(errs...)
}

// Clients 当前连接数
func (s *Server) Clients() int {
	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()
	return len(s.clientConns)
}

// Close stops accepting, disconnects clients and releases the lock.
func (s *Server) Close() {
	if s.listener != nil {
		close(s.done)
		s.listener.Close()

		s.clientConnsLock.Lock()
		for conn := range s.clientConns {
			conn.Close()
		}
		s.clientConnsLock.Unlock()

		s.wg.Wait()
		s.listener = nil
		os.Remove(s.socketPath)
	}
	s.releaseLock()
}
